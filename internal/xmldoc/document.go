// Package xmldoc reads and writes the per-directory metadata documents of a
// volume. Parsing and serialization go through xmlquery; the write protocol
// in store.go keeps one backup generation of every document.
package xmldoc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ErrNoRoot is returned when a document contains no element.
var ErrNoRoot = errors.New("document has no root element")

// Attr is a single attribute in document order.
type Attr struct {
	Name  string
	Value string
}

// Element is a detached, format-level view of one XML element. It carries
// no behaviour; the volume package converts it to and from tree nodes.
type Element struct {
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Parse decodes data and returns its root element. Input without any
// element, such as a bare declaration, yields ErrNoRoot.
func Parse(data []byte) (*Element, error) {
	if !hasElement(data) {
		return nil, ErrNoRoot
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return fromQueryNode(n), nil
		}
	}
	return nil, ErrNoRoot
}

// hasElement reports whether data contains an element start tag. Comments,
// declarations and processing instructions do not count.
func hasElement(data []byte) bool {
	for {
		i := bytes.IndexByte(data, '<')
		if i < 0 || i+1 >= len(data) {
			return false
		}
		switch c := data[i+1]; {
		case c == '?' || c == '!' || c == '/':
		case c == '_' || c == ':' || c >= 0x80 || (c|0x20 >= 'a' && c|0x20 <= 'z'):
			return true
		}
		data = data[i+1:]
	}
}

func fromQueryNode(n *xmlquery.Node) *Element {
	e := &Element{Tag: qualified(n.Prefix, n.Data)}
	if len(n.Attr) > 0 {
		e.Attrs = make([]Attr, 0, len(n.Attr))
	}
	for _, a := range n.Attr {
		e.Attrs = append(e.Attrs, Attr{Name: qualified(a.Name.Space, a.Name.Local), Value: a.Value})
	}
	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			e.Children = append(e.Children, fromQueryNode(c))
		case xmlquery.TextNode, xmlquery.CharDataNode:
			text.WriteString(c.Data)
		}
	}
	e.Text = strings.TrimSpace(text.String())
	return e
}

func qualified(space, local string) string {
	if space == "" {
		return local
	}
	return space + ":" + local
}

// Marshal serializes e as an indented document with an XML declaration.
func Marshal(e *Element) ([]byte, error) {
	if e == nil || e.Tag == "" {
		return nil, ErrNoRoot
	}
	doc := &xmlquery.Node{Type: xmlquery.DocumentNode}
	decl := &xmlquery.Node{Type: xmlquery.DeclarationNode, Data: "xml"}
	xmlquery.AddAttr(decl, "version", "1.0")
	xmlquery.AddAttr(decl, "encoding", "utf-8")
	xmlquery.AddChild(doc, decl)
	xmlquery.AddChild(doc, toQueryNode(e))

	var buf bytes.Buffer
	if err := doc.WriteWithOptions(&buf,
		xmlquery.WithEmptyTagSupport(),
		xmlquery.WithIndentation("  "),
	); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", e.Tag, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func toQueryNode(e *Element) *xmlquery.Node {
	n := &xmlquery.Node{Type: xmlquery.ElementNode, Data: e.Tag}
	for _, a := range e.Attrs {
		xmlquery.AddAttr(n, a.Name, a.Value)
	}
	if e.Text != "" {
		xmlquery.AddChild(n, &xmlquery.Node{Type: xmlquery.TextNode, Data: e.Text})
	}
	for _, c := range e.Children {
		xmlquery.AddChild(n, toQueryNode(c))
	}
	return n
}
