package volume

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5/util"
)

// Element is implemented by every node type in a volume tree. Concrete types
// embed *Node (directly or through ResourceNode/ContainerNode) and override
// the validation and ordering hooks they care about.
type Element interface {
	Base() *Node
	NeedsValidation() bool
	IsValid() (bool, string)
	SortKey() (string, bool)
	Clean(reason string) error
	Save() error
	String() string
}

var nodeIDs atomic.Uint64

// Node is the generic tree element: a tag, ordered attributes, an optional
// text payload and ordered children. The parent pointer is a plain back
// reference; a child belongs to exactly one parent's child list.
type Node struct {
	tag   string
	attrs attributes

	mu       sync.RWMutex // guards text, children, parent
	text     string
	children []Element
	parent   Element

	self    Element
	generic bool
	id      uint64

	attributesChanged atomic.Bool
	childrenChanged   atomic.Bool
}

// NewNode returns a plain node with no filesystem behaviour.
func NewNode(tag string) *Node {
	n := &Node{}
	initElement(n, tag)
	return n
}

// initElement prepares a freshly constructed element: identity, version and
// creation stamp. The element starts dirty.
func initElement(e Element, tag string) {
	n := e.Base()
	n.tag = tag
	n.self = e
	n.id = nodeIDs.Add(1)
	n.SetAttrFloat(AttrVersion, Versions().Latest(tag))
	n.SetAttr(AttrCreationDate, time.Now().Format(CreationDateLayout))
	n.attributesChanged.Store(true)
}

// newGeneric returns an unspecialized node as produced by parsing a document.
func newGeneric(tag string) *Node {
	n := &Node{tag: tag, generic: true, id: nodeIDs.Add(1)}
	n.self = n
	return n
}

func (n *Node) Base() *Node { return n }

func (n *Node) Tag() string { return n.tag }

// ID is a per-process diagnostic identifier with no persistent meaning.
func (n *Node) ID() uint64 { return n.id }

// Self returns the outermost element wrapping n.
func (n *Node) Self() Element { return n.self }

func (n *Node) Text() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.text
}

// SetText replaces the text payload, marking the node changed if it differs.
func (n *Node) SetText(s string) {
	n.mu.Lock()
	changed := n.text != s
	n.text = s
	n.mu.Unlock()
	if changed {
		n.attributesChanged.Store(true)
	}
}

func (n *Node) Parent() Element {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

func (n *Node) setParent(p Element) {
	n.mu.Lock()
	n.parent = p
	n.mu.Unlock()
	n.invalidatePaths()
}

// Root returns the topmost ancestor.
func (n *Node) Root() Element {
	cur := n.self
	for {
		p := cur.Base().Parent()
		if p == nil {
			return cur
		}
		cur = p
	}
}

// Manager returns the manager of the volume n belongs to, or nil.
func (n *Node) Manager() *Manager {
	if v, ok := n.Root().(*VolumeNode); ok {
		return v.mgr
	}
	return nil
}

// Version is the schema version recorded on the node; 1.0 when absent.
func (n *Node) Version() float64 {
	if v, ok := n.AttrFloat(AttrVersion); ok {
		return v
	}
	return 1.0
}

func (n *Node) CreationDate() (time.Time, bool) {
	return n.AttrTime(AttrCreationDate)
}

func (n *Node) AttributesChanged() bool { return n.attributesChanged.Load() }
func (n *Node) ChildrenChanged() bool   { return n.childrenChanged.Load() }

// MarkChanged forces the node's document to be rewritten on the next save.
func (n *Node) MarkChanged() { n.attributesChanged.Store(true) }

func (n *Node) clearChanged() {
	n.attributesChanged.Store(false)
	n.childrenChanged.Store(false)
}

// Locked nodes keep their files when cleaned.
func (n *Node) Locked() bool {
	v, _ := n.AttrBool(AttrLocked)
	return v
}

func (n *Node) SetLocked(v bool) { n.SetAttrBool(AttrLocked, v) }

func (n *Node) NeedsValidation() bool { return false }

// IsValid on a plain node only applies the schema version gate.
func (n *Node) IsValid() (bool, string) {
	if min := Versions().MinCompatible(n.tag); min > 0 && n.Version() < min {
		return false, ReasonOutdated
	}
	return true, ""
}

func (n *Node) SortKey() (string, bool) { return "", false }

func (n *Node) String() string {
	var b strings.Builder
	b.WriteString(n.tag)
	for _, kv := range n.attrs.snapshot() {
		if kv.name == AttrCreationDate || kv.name == AttrValidationTime {
			continue
		}
		fmt.Fprintf(&b, " %s=%q", kv.name, kv.value)
	}
	return b.String()
}

// rawChildren returns a snapshot of the child list, placeholders included.
func (n *Node) rawChildren() []Element {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.children)
}

// Append adds child at the end of n's children. Appending a node to itself,
// appending a node that already has a parent, or appending a container
// while an unresolved placeholder for it exists are caller bugs and panic.
func (n *Node) Append(child Element) {
	c := child.Base()
	if c == n {
		panic(fmt.Sprintf("volume: cannot append %s to itself", n.tag))
	}
	if c.Parent() != nil {
		panic(fmt.Sprintf("volume: %s already has a parent, use Move", c.tag))
	}
	if _, isLink := child.(*LinkNode); !isLink {
		if twin := n.placeholderFor(child); twin != nil {
			panic(fmt.Sprintf("volume: %s has an unresolved placeholder %s", c, twin))
		}
	}
	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()
	c.setParent(n.self)
	n.childrenChanged.Store(true)
}

// Remove detaches child from n and reports whether it was a member.
// Removing n from itself is a caller bug and panics.
func (n *Node) Remove(child Element) bool {
	if child.Base() == n {
		panic(fmt.Sprintf("volume: cannot remove %s from itself", n.tag))
	}
	n.mu.Lock()
	i := slices.Index(n.children, child)
	if i < 0 {
		n.mu.Unlock()
		return false
	}
	n.children = slices.Delete(n.children, i, i+1)
	n.mu.Unlock()
	child.Base().setParent(nil)
	n.childrenChanged.Store(true)
	return true
}

// Move re-parents child under n.
func (n *Node) Move(child Element) {
	if p := child.Base().Parent(); p != nil {
		p.Base().Remove(child)
	}
	n.Append(child)
}

// replaceChild swaps old for repl at the same index without marking n
// changed; the document content is equivalent.
func (n *Node) replaceChild(old, repl Element) bool {
	n.mu.Lock()
	i := slices.Index(n.children, old)
	if i < 0 {
		n.mu.Unlock()
		return false
	}
	n.children[i] = repl
	n.mu.Unlock()
	repl.Base().setParent(n.self)
	return true
}

// placeholderFor returns an unresolved link standing in for e, if any.
func (n *Node) placeholderFor(e Element) *LinkNode {
	path, ok := e.Base().Attr(AttrPath)
	if !ok {
		return nil
	}
	for _, c := range n.rawChildren() {
		l, ok := c.(*LinkNode)
		if !ok || l.TargetTag() != e.Base().tag {
			continue
		}
		if p, _ := l.Attr(AttrPath); p == path {
			return l
		}
	}
	return nil
}

// invalidatePaths drops cached full paths in the subtree rooted at n.
func (n *Node) invalidatePaths() {
	if r, ok := n.self.(Resource); ok {
		r.resource().resetPath()
	}
	for _, c := range n.rawChildren() {
		c.Base().invalidatePaths()
	}
}

// Sort orders children for serialization: elements with a sort key first,
// then placeholders by path, then the rest by their string form, each group
// descending. Sorting never marks a node changed.
func (n *Node) Sort() {
	n.mu.Lock()
	var keyed, links, rest []Element
	for _, c := range n.children {
		switch {
		case isLink(c):
			links = append(links, c)
		default:
			if _, ok := c.SortKey(); ok {
				keyed = append(keyed, c)
			} else {
				rest = append(rest, c)
			}
		}
	}
	slices.SortStableFunc(keyed, func(a, b Element) int {
		ka, _ := a.SortKey()
		kb, _ := b.SortKey()
		return strings.Compare(kb, ka)
	})
	slices.SortStableFunc(links, func(a, b Element) int {
		pa, _ := a.Base().Attr(AttrPath)
		pb, _ := b.Base().Attr(AttrPath)
		return strings.Compare(pb, pa)
	})
	slices.SortStableFunc(rest, func(a, b Element) int {
		return strings.Compare(b.String(), a.String())
	})
	n.children = append(append(append(n.children[:0], keyed...), links...), rest...)
	children := slices.Clone(n.children)
	n.mu.Unlock()

	for _, c := range children {
		if !isLink(c) {
			c.Base().Sort()
		}
	}
}

// Clean removes n from the tree. Children are cleaned first; resources then
// delete their file or directory unless n (or an ancestor being cleaned) is
// locked.
func (n *Node) Clean(reason string) error {
	return n.clean(reason, true)
}

func (n *Node) clean(reason string, removeFiles bool) error {
	mgr := n.Manager()
	if n.Locked() {
		removeFiles = false
	}
	for _, c := range n.rawChildren() {
		if err := c.Base().clean(reason, removeFiles); err != nil {
			return err
		}
	}

	if r, ok := n.self.(Resource); ok && mgr != nil {
		path := r.FullPath()
		if removeFiles {
			if err := util.RemoveAll(mgr.fs, path); err != nil {
				return fmt.Errorf("clean %s: %w", path, err)
			}
		}
		mgr.log.Warn("cleaned node", "tag", n.tag, "path", path, "reason", reason, "files_removed", removeFiles)
	}

	if p := n.Parent(); p != nil {
		p.Base().Remove(n.self)
	}
	return nil
}

// CleanIfInvalid runs IsValid and cleans the node when it fails. It reports
// whether the node was cleaned.
func (n *Node) CleanIfInvalid() (bool, error) {
	ok, reason := n.self.IsValid()
	if ok {
		return false, nil
	}
	return true, n.Clean(reason)
}

// Save persists the document that holds n.
func (n *Node) Save() error {
	mgr := n.Manager()
	if mgr == nil {
		return ErrDetached
	}
	return mgr.Save(n.self)
}
