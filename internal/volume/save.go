package volume

import (
	"fmt"

	"github.com/agentic-research/voltree/internal/xmldoc"
)

// HasChangesToSave reports whether writing e's document would change it:
// e's own flags, or those of any child stored in the same document. A
// linked container child only contributes its attribute changes, which
// its placeholder mirrors; its content is saved in its own document.
func HasChangesToSave(e Element) bool {
	n := e.Base()
	if n.attributesChanged.Load() || n.childrenChanged.Load() {
		return true
	}
	for _, c := range n.rawChildren() {
		if isLink(c) {
			continue
		}
		if ct, ok := c.(Container); ok && ct.SaveAsLinked() {
			if c.Base().attributesChanged.Load() {
				return true
			}
			continue
		}
		if HasChangesToSave(c) {
			return true
		}
	}
	return false
}

// Save writes the document holding e: e's own when e is a linked container,
// else that of its nearest linked ancestor.
func (m *Manager) Save(e Element) error {
	for cur := e; cur != nil; cur = cur.Base().Parent() {
		if c, ok := cur.(Container); ok && c.SaveAsLinked() {
			return m.saveContainer(c)
		}
	}
	return fmt.Errorf("save %s: %w", e, ErrNoDocument)
}

// saveContainer serializes c under its per-container lock. Linked children
// are always saved first, since their own documents may have changes even
// when c's does not. c's document is written only if something in it
// changed, and dirty flags are cleared only after the write succeeded.
//
// Writing c clears its attribute flag, which its parent's placeholder
// mirrors, so a successful write of changed attributes marks the parent's
// children changed. The mark survives a failed parent write.
func (m *Manager) saveContainer(c Container) error {
	cn := c.container()
	cn.saveMu.Lock()
	defer cn.saveMu.Unlock()

	n := c.Base()
	attrsChanged := n.attributesChanged.Load()
	changed := HasChangesToSave(c)
	if n.childrenChanged.Load() {
		n.Sort()
	}

	doc, written, err := m.buildDocument(c)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	dir := c.FullPath()
	w, err := m.store.Write(dir, doc)
	if err != nil {
		return fmt.Errorf("save %s: %w", c, err)
	}
	for _, wn := range written {
		wn.clearChanged()
	}
	if p := n.Parent(); attrsChanged && p != nil {
		p.Base().childrenChanged.Store(true)
	}
	m.record(c, w)
	return nil
}

// buildDocument returns the document of the subtree rooted at e and the
// nodes whose content it contains.
func (m *Manager) buildDocument(e Element) (*xmldoc.Element, []*Node, error) {
	n := e.Base()
	x := docElement(n)
	written := []*Node{n}
	links := make(map[string]bool)

	addLink := func(le *xmldoc.Element) error {
		path, _ := le.Attr(AttrPath)
		if links[le.Tag+"\x00"+path] {
			return fmt.Errorf("%s: duplicate link %s to %q", e, le.Tag, path)
		}
		links[le.Tag+"\x00"+path] = true
		x.Children = append(x.Children, le)
		return nil
	}

	for _, c := range n.rawChildren() {
		switch ct := c.(type) {
		case *LinkNode:
			if err := addLink(docElement(&ct.Node)); err != nil {
				return nil, nil, err
			}
		case Container:
			if ct.SaveAsLinked() {
				if err := m.saveContainer(ct); err != nil {
					return nil, nil, err
				}
				if err := addLink(linkElement(ct)); err != nil {
					return nil, nil, err
				}
				continue
			}
			sub, subWritten, err := m.buildDocument(ct)
			if err != nil {
				return nil, nil, err
			}
			x.Children = append(x.Children, sub)
			written = append(written, subWritten...)
		default:
			sub, subWritten, err := m.buildDocument(c)
			if err != nil {
				return nil, nil, err
			}
			x.Children = append(x.Children, sub)
			written = append(written, subWritten...)
		}
	}
	return x, written, nil
}

func (m *Manager) record(c Container, w *xmldoc.Written) {
	if m.recorder == nil {
		return
	}
	rec := DocumentRecord{
		Path:      w.Path,
		Tag:       c.Base().tag,
		Checksum:  w.Checksum,
		Size:      w.Size,
		WrittenAt: w.WrittenAt,
		Session:   m.session,
	}
	if err := m.recorder.RecordDocument(rec); err != nil {
		m.log.Warn("catalog record failed", "path", w.Path, "err", err)
	}
}
