package volume

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// LinkSuffix marks placeholder elements in a document. Set it at startup,
// before any volume is loaded, if documents use a different suffix.
var LinkSuffix = "_Link"

// LinkState is the resolution state of a placeholder.
type LinkState int32

const (
	LinkUnresolved LinkState = iota
	LinkResolving
	LinkResolved
	LinkRemoved
)

func (s LinkState) String() string {
	switch s {
	case LinkUnresolved:
		return "unresolved"
	case LinkResolving:
		return "resolving"
	case LinkResolved:
		return "resolved"
	case LinkRemoved:
		return "removed"
	}
	return fmt.Sprintf("LinkState(%d)", int32(s))
}

// LinkNode stands in for a linked container whose document has not been
// read yet. It mirrors the container's attributes and never has children.
// Placeholders are internal to the tree: queries resolve them before
// returning results.
type LinkNode struct {
	Node

	state  atomic.Int32
	once   sync.Once
	loaded Element
	err    error
}

func newLink(tag string) *LinkNode {
	l := &LinkNode{}
	l.tag = tag
	l.self = l
	l.id = nodeIDs.Add(1)
	return l
}

func isLink(e Element) bool {
	_, ok := e.(*LinkNode)
	return ok
}

// TargetTag is the tag of the container the placeholder refers to.
func (l *LinkNode) TargetTag() string {
	return strings.TrimSuffix(l.tag, LinkSuffix)
}

func (l *LinkNode) State() LinkState { return LinkState(l.state.Load()) }

// Err is the reason the placeholder was removed, if it was.
func (l *LinkNode) Err() error { return l.err }

// load reads and specializes the referenced document. It runs at most once;
// the result is installed into the tree by install.
func (l *LinkNode) load(m *Manager, parent Element) {
	l.once.Do(func() {
		l.state.Store(int32(LinkResolving))
		path, _ := l.Attr(AttrPath)
		dir := filepath.Join(parentDir(parent), path)
		if path == "" {
			l.err = &LinkError{Path: dir, Err: fmt.Errorf("placeholder %s has no %s", l.tag, AttrPath)}
			return
		}
		x, err := m.store.Read(dir)
		if err != nil {
			l.err = &LinkError{Path: dir, Err: err}
			return
		}
		if x.Tag != l.TargetTag() {
			l.err = &LinkError{Path: dir, Err: fmt.Errorf("document root is %s, want %s", x.Tag, l.TargetTag())}
			return
		}
		_, e := m.Wrap(fromDocument(x))
		n := e.Base()
		n.parent = parent
		// The placeholder path is authoritative; relocated subtrees heal.
		n.SetAttr(AttrPath, path)
		m.specializeChildren(e)
		l.loaded = e
	})
}

// install replaces the placeholder with its loaded node, or drops it when
// loading failed. It returns the installed node.
func (m *Manager) install(parent Element, l *LinkNode) Element {
	if l.err != nil || l.loaded == nil {
		if parent.Base().Remove(l) {
			l.state.Store(int32(LinkRemoved))
			m.log.Warn("dropping unresolvable link", "parent", parent.Base().tag, "err", l.err)
		}
		return nil
	}
	if !parent.Base().replaceChild(l, l.loaded) {
		// Installed by a concurrent resolver.
		return nil
	}
	l.state.Store(int32(LinkResolved))
	return l.loaded
}

// resolveLinks replaces placeholders under parent with the containers they
// reference. Loading runs on a task group created for this call, then the
// results are installed serially, then the new nodes that need it get their
// structural validation on a second task group, and the invalid ones are
// cleaned. A failure in one placeholder never affects its siblings.
func (m *Manager) resolveLinks(parent Element, links []*LinkNode) {
	if len(links) == 0 {
		return
	}
	m.fanOut(len(links), func(i int) {
		links[i].load(m, parent)
	})

	var fresh []Element
	for _, l := range links {
		if e := m.install(parent, l); e != nil {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return
	}

	reasons := make([]string, len(fresh))
	m.fanOut(len(fresh), func(i int) {
		e := fresh[i]
		if !e.NeedsValidation() {
			return
		}
		var ok bool
		var reason string
		if s, isStructural := e.(structural); isStructural {
			ok, reason = s.checkStructure()
		} else {
			ok, reason = e.IsValid()
		}
		if !ok {
			reasons[i] = reason
		}
	})

	for i, e := range fresh {
		if reasons[i] == "" {
			continue
		}
		if err := e.Clean(reasons[i]); err != nil {
			m.log.Warn("clean of invalid node failed", "node", e.String(), "err", err)
		}
	}
}

// fanOut runs fn for 0..n-1. A single item runs inline; more use a fresh
// bounded task group that is drained before returning, so callers already
// running inside a task group cannot deadlock on a shared pool.
func (m *Manager) fanOut(n int, fn func(i int)) {
	if n == 1 {
		fn(0)
		return
	}
	var g errgroup.Group
	g.SetLimit(m.workers)
	for i := range n {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
