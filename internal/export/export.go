// Package export renders a volume tree as plain JSON-shaped data so it can
// be inspected with JSONPath selectors.
package export

import (
	"fmt"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/voltree/internal/volume"
)

// Keys of an exported node.
const (
	KeyTag        = "tag"
	KeyAttributes = "attributes"
	KeyText       = "text"
	KeyChildren   = "children"
)

// Tree converts e and its descendants. Placeholders met on the way are
// resolved, so the result holds every sub-document below e.
func Tree(e volume.Element) map[string]any {
	n := e.Base()
	out := map[string]any{KeyTag: n.Tag()}

	attrs := n.Attrs()
	if len(attrs) > 0 {
		m := make(map[string]any, len(attrs))
		for _, kv := range attrs {
			m[kv[0]] = kv[1]
		}
		out[KeyAttributes] = m
	}
	if text := n.Text(); text != "" {
		out[KeyText] = text
	}

	children := n.Children()
	if len(children) > 0 {
		list := make([]any, 0, len(children))
		for _, c := range children {
			list = append(list, Tree(c))
		}
		out[KeyChildren] = list
	}
	return out
}

// Select evaluates a JSONPath selector against an exported tree.
func Select(tree any, selector string) ([]any, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	return x.Get(tree), nil
}

// JSON renders v indented with sorted keys so output is stable between runs.
func JSON(v any) string {
	return oj.JSON(v, &ojg.Options{Indent: 2, Sort: true})
}

// TagCounts returns how many nodes of each tag are below and including e.
func TagCounts(m *volume.Manager, e volume.Element) (map[string]int, error) {
	counts := map[string]int{}
	err := m.Walk(e, func(el volume.Element) error {
		counts[el.Base().Tag()]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
