package volume

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/agentic-research/voltree/internal/xmldoc"
)

// Factory returns a zero value of a concrete element type, ready to receive
// the content of a parsed node.
type Factory func() Element

var (
	typesMu sync.RWMutex
	types   = make(map[string]Factory)
)

// RegisterType binds tag to a concrete element type. Registering the same
// tag twice panics.
func RegisterType(tag string, f Factory) {
	typesMu.Lock()
	defer typesMu.Unlock()
	if _, dup := types[tag]; dup {
		panic(fmt.Sprintf("volume: type %q registered twice", tag))
	}
	types[tag] = f
}

// RegisteredTags lists registered tags in sorted order.
func RegisteredTags() []string {
	typesMu.RLock()
	defer typesMu.RUnlock()
	tags := make([]string, 0, len(types))
	for t := range types {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

func lookupType(tag string) (Factory, bool) {
	typesMu.RLock()
	defer typesMu.RUnlock()
	f, ok := types[tag]
	return f, ok
}

// Wrap converts a node read from a document into its specialized type. The
// registered factory for the tag is used when there is one; otherwise the
// node becomes a FileNode if its Path names an existing regular file, a
// ContainerNode if it has any other Path, and stays a plain Node without
// one. Children are moved over unchanged and specialized when attached.
// Already specialized nodes are returned as is with wrapped == false.
func (m *Manager) Wrap(e Element) (wrapped bool, out Element) {
	n := e.Base()
	if !n.generic {
		return false, e
	}
	if f, ok := lookupType(n.tag); ok {
		out = f()
	} else {
		out = m.infer(n)
	}
	if out == nil {
		n.generic = false
		return true, n
	}
	adopt(out.Base(), n, out)
	return true, out
}

func (m *Manager) infer(n *Node) Element {
	path, ok := n.Attr(AttrPath)
	if !ok {
		return nil
	}
	full := filepath.Join(parentDir(n.Parent()), path)
	if fi, err := m.fs.Stat(full); err == nil && fi.Mode().IsRegular() {
		return &FileNode{}
	}
	return &ContainerNode{}
}

// adopt moves the content of the generic node src into dst.
func adopt(dst, src *Node, self Element) {
	src.mu.Lock()
	dst.tag = src.tag
	dst.id = src.id
	dst.self = self
	dst.attrs.replace(src.attrs.snapshot())
	dst.text = src.text
	dst.parent = src.parent
	dst.children = src.children
	src.children = nil
	src.mu.Unlock()

	dst.attributesChanged.Store(src.attributesChanged.Load())
	dst.childrenChanged.Store(src.childrenChanged.Load())
	for _, c := range dst.children {
		cn := c.Base()
		cn.mu.Lock()
		cn.parent = self
		cn.mu.Unlock()
	}
}

// attach links e under parent and specializes its subtree. Children with a
// deprecated tag are dropped and the node is marked changed so the pruned
// document is written back on the next save.
func (m *Manager) attach(e Element, parent Element) {
	e.Base().setParent(parent)
	m.specializeChildren(e)
}

func (m *Manager) specializeChildren(e Element) {
	n := e.Base()
	reg := Versions()
	children := n.rawChildren()
	kept := make([]Element, 0, len(children))
	pruned := false
	for _, c := range children {
		tag := c.Base().tag
		if l, ok := c.(*LinkNode); ok {
			tag = l.TargetTag()
		}
		if reg.Deprecated(tag) {
			m.log.Debug("dropping deprecated element", "tag", tag, "parent", n.tag)
			pruned = true
			continue
		}
		if !isLink(c) {
			_, c = m.Wrap(c)
		}
		kept = append(kept, c)
	}

	n.mu.Lock()
	n.children = kept
	n.mu.Unlock()
	if pruned {
		n.childrenChanged.Store(true)
	}

	for _, c := range kept {
		if !isLink(c) {
			m.specializeChildren(c)
		}
	}
}

// fromDocument builds an unspecialized tree from a parsed document.
// Elements carrying the link suffix become placeholders.
func fromDocument(x *xmldoc.Element) Element {
	var (
		e Element
		n *Node
	)
	if strings.HasSuffix(x.Tag, LinkSuffix) && len(x.Tag) > len(LinkSuffix) {
		l := newLink(x.Tag)
		e, n = l, &l.Node
	} else {
		n = newGeneric(x.Tag)
		e = n
	}
	attrs := make([]attr, len(x.Attrs))
	for i, a := range x.Attrs {
		attrs[i] = attr{a.Name, a.Value}
	}
	n.attrs.replace(attrs)
	n.text = x.Text
	if isLink(e) {
		return e
	}
	for _, cx := range x.Children {
		c := fromDocument(cx)
		c.Base().parent = e
		n.children = append(n.children, c)
	}
	return e
}

// docElement returns a detached copy of n's tag, attributes and text.
func docElement(n *Node) *xmldoc.Element {
	snap := n.attrs.snapshot()
	x := &xmldoc.Element{Tag: n.tag, Text: n.Text()}
	if len(snap) > 0 {
		x.Attrs = make([]xmldoc.Attr, len(snap))
		for i, kv := range snap {
			x.Attrs[i] = xmldoc.Attr{Name: kv.name, Value: kv.value}
		}
	}
	return x
}

// linkElement builds the placeholder written in place of a linked container.
func linkElement(c Element) *xmldoc.Element {
	x := docElement(c.Base())
	x.Tag += LinkSuffix
	x.Text = ""
	return x
}
