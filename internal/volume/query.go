package volume

import (
	"fmt"
	"strings"

	"github.com/antchfx/xpath"
)

// Queries are slash-separated steps. A step is a tag or "*", optionally
// followed by predicates [@Attr='value'], [@Attr="value"] or [@Attr].
// Syntax is checked with the XPath compiler first so malformed input is
// rejected with a useful message; evaluation is done here because it has
// to resolve placeholders as it descends.

type predicate struct {
	attr     string
	value    string
	hasValue bool
}

type step struct {
	tag   string
	preds []predicate
}

func (s step) matchesTag(tag string) bool {
	return s.tag == "*" || s.tag == tag
}

func (s step) matchesAttrs(n *Node) bool {
	for _, p := range s.preds {
		v, ok := n.Attr(p.attr)
		if !ok || (p.hasValue && v != p.value) {
			return false
		}
	}
	return true
}

// mayReference reports whether resolving l could produce a match. An
// attribute missing from the placeholder does not rule it out.
func (s step) mayReference(l *LinkNode) bool {
	if !s.matchesTag(l.TargetTag()) {
		return false
	}
	for _, p := range s.preds {
		v, ok := l.Attr(p.attr)
		if ok && p.hasValue && v != p.value {
			return false
		}
	}
	return true
}

func parseQuery(q string) ([]step, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrBadQuery)
	}
	if _, err := xpath.Compile(q); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadQuery, q, err)
	}
	var steps []step
	for _, seg := range splitSteps(q) {
		s, err := parseStep(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadQuery, q, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// splitSteps splits on slashes outside quotes and brackets.
func splitSteps(q string) []string {
	var (
		out   []string
		start int
		depth int
		quote rune
	)
	for i, r := range q {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == '/' && depth == 0:
			out = append(out, q[start:i])
			start = i + 1
		}
	}
	return append(out, q[start:])
}

func parseStep(seg string) (step, error) {
	seg = strings.TrimSpace(seg)
	i := strings.IndexByte(seg, '[')
	if i < 0 {
		i = len(seg)
	}
	s := step{tag: strings.TrimSpace(seg[:i])}
	if s.tag == "" {
		return s, fmt.Errorf("empty step")
	}
	if s.tag != "*" && strings.ContainsAny(s.tag, "@:()=.'\"") {
		return s, fmt.Errorf("unsupported step %q", s.tag)
	}
	rest := seg[i:]
	for rest != "" {
		end := closingBracket(rest)
		if rest[0] != '[' || end < 0 {
			return s, fmt.Errorf("unterminated predicate in %q", seg)
		}
		p, err := parsePredicate(strings.TrimSpace(rest[1:end]))
		if err != nil {
			return s, err
		}
		s.preds = append(s.preds, p)
		rest = strings.TrimSpace(rest[end+1:])
	}
	return s, nil
}

func closingBracket(s string) int {
	var quote rune
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ']':
			return i
		}
	}
	return -1
}

func parsePredicate(body string) (predicate, error) {
	if !strings.HasPrefix(body, "@") {
		return predicate{}, fmt.Errorf("unsupported predicate [%s]", body)
	}
	name, value, hasValue := strings.Cut(body[1:], "=")
	p := predicate{attr: strings.TrimSpace(name)}
	if p.attr == "" {
		return p, fmt.Errorf("predicate [%s] names no attribute", body)
	}
	if !hasValue {
		return p, nil
	}
	value = strings.TrimSpace(value)
	if len(value) < 2 || (value[0] != '\'' && value[0] != '"') || value[len(value)-1] != value[0] {
		return p, fmt.Errorf("predicate [%s] needs a quoted value", body)
	}
	p.value, p.hasValue = value[1:len(value)-1], true
	return p, nil
}

// matchStep returns n's children matching s, resolving any placeholder that
// could match first.
func (n *Node) matchStep(s step) []Element {
	if mgr := n.Manager(); mgr != nil {
		var pending []*LinkNode
		for _, c := range n.rawChildren() {
			if l, ok := c.(*LinkNode); ok && s.mayReference(l) {
				pending = append(pending, l)
			}
		}
		mgr.resolveLinks(n.self, pending)
	}

	var out []Element
	for _, c := range n.rawChildren() {
		if isLink(c) {
			continue
		}
		cn := c.Base()
		if s.matchesTag(cn.tag) && s.matchesAttrs(cn) {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) evaluate(steps []step) []Element {
	cur := []Element{n.self}
	for _, s := range steps {
		var next []Element
		for _, e := range cur {
			next = append(next, e.Base().matchStep(s)...)
		}
		if len(next) == 0 {
			return nil
		}
		cur = next
	}
	return cur
}

// FindAll returns every node matching query relative to n, in child order.
// Placeholders on the way are resolved; the result never contains one.
func (n *Node) FindAll(query string) ([]Element, error) {
	steps, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	return n.evaluate(steps), nil
}

// FindFirst returns the first match of query or ErrNotFound.
func (n *Node) FindFirst(query string) (Element, error) {
	all, err := n.FindAll(query)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%s under %s: %w", query, n.tag, ErrNotFound)
	}
	return all[0], nil
}

// FindParent returns the nearest ancestor with the given tag, or nil.
func (n *Node) FindParent(tag string) Element {
	for p := n.Parent(); p != nil; p = p.Base().Parent() {
		if p.Base().tag == tag {
			return p
		}
	}
	return nil
}

// FindFromParent evaluates query against each ancestor in turn, starting
// with the parent, and returns the first match. It finds the closest
// applicable setting without repeating it at every level.
func (n *Node) FindFromParent(query string) (Element, error) {
	steps, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	for p := n.Parent(); p != nil; p = p.Base().Parent() {
		if found := p.Base().evaluate(steps); len(found) > 0 {
			return found[0], nil
		}
	}
	return nil, fmt.Errorf("%s above %s: %w", query, n.tag, ErrNotFound)
}

// Children resolves every placeholder and returns the children.
func (n *Node) Children() []Element {
	return n.matchStep(step{tag: "*"})
}

func (n *Node) ChildCount() int { return len(n.Children()) }

// RemoveChildrenByQuery removes every match of query from its parent and
// returns how many were removed. Files are left in place; use Clean to
// delete them.
func (n *Node) RemoveChildrenByQuery(query string) (int, error) {
	found, err := n.FindAll(query)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range found {
		if p := e.Base().Parent(); p != nil && p.Base().Remove(e) {
			removed++
		}
	}
	return removed, nil
}

// CreateOrGetChild returns the existing child with child's tag whose
// matchAttrs equal child's values, or appends child. Every candidate
// placeholder is resolved first, so the new child never shadows one.
func (n *Node) CreateOrGetChild(child Element, matchAttrs ...string) (created bool, e Element) {
	c := child.Base()
	s := step{tag: c.tag}
	for _, name := range matchAttrs {
		v, ok := c.Attr(name)
		s.preds = append(s.preds, predicate{attr: name, value: v, hasValue: ok})
	}
	if found := n.matchStep(s); len(found) > 0 {
		return false, found[0]
	}
	n.Append(child)
	return true, child
}

// GetOrCreate is CreateOrGetChild with the result typed as T. An existing
// child of another type is an error.
func GetOrCreate[T Element](parent Element, child T, matchAttrs ...string) (bool, T, error) {
	created, e := parent.Base().CreateOrGetChild(child, matchAttrs...)
	t, ok := e.(T)
	if !ok {
		var zero T
		return false, zero, fmt.Errorf("%s: existing %s has type %T", parent.Base().tag, e, e)
	}
	return created, t, nil
}

// FindFirstAs is FindFirst with the result typed as T.
func FindFirstAs[T Element](from Element, query string) (T, error) {
	var zero T
	e, err := from.Base().FindFirst(query)
	if err != nil {
		return zero, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%s: found %T: %w", query, e, ErrNotFound)
	}
	return t, nil
}
