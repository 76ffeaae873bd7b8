package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		query string
		want  []step
	}{
		{"Block", []step{{tag: "Block"}}},
		{"*", []step{{tag: "*"}}},
		{"Block[@Name='TEM']", []step{{tag: "Block", preds: []predicate{{"Name", "TEM", true}}}}},
		{`Block[@Name="a'b"]/Section[@Number]`, []step{
			{tag: "Block", preds: []predicate{{"Name", "a'b", true}}},
			{tag: "Section", preds: []predicate{{attr: "Number"}}},
		}},
		{"Filter[@Name='a/b'][@Locked='True']/*", []step{
			{tag: "Filter", preds: []predicate{{"Name", "a/b", true}, {"Locked", "True", true}}},
			{tag: "*"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := parseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuery_Rejects(t *testing.T) {
	for _, q := range []string{"", "Block[@Name='TEM'", "Block[1]", "Block[position()=1]", "Block//Section", "../Block", "Block[@Name=TEM]"} {
		_, err := parseQuery(q)
		assert.ErrorIs(t, err, ErrBadQuery, q)
	}
}

func detachedTree() (*BlockNode, *SectionNode, *ChannelNode) {
	b := NewBlock("TEM")
	s := NewSection(1)
	c := NewChannel("Raw")
	b.Append(s)
	s.Append(c)
	return b, s, c
}

func TestFind(t *testing.T) {
	b, _, c := detachedTree()
	s2 := NewSection(2)
	b.Append(s2)

	all, err := b.FindAll("Section")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := b.FindFirst("Section[@Number='2']")
	require.NoError(t, err)
	assert.Same(t, s2, got.(*SectionNode))

	got, err = b.FindFirst("*/Channel[@Name='Raw']")
	require.NoError(t, err)
	assert.Same(t, c, got.(*ChannelNode))

	_, err = b.FindFirst("Section[@Number='9']")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = FindFirstAs[*ChannelNode](b, "Section")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindFromParent_NearestAncestorWins(t *testing.T) {
	b, s, c := detachedTree()
	outer := NewNotes("block level")
	outer.SetAttr(AttrName, "Setting")
	b.Append(outer)

	got, err := c.FindFromParent("Notes[@Name='Setting']")
	require.NoError(t, err)
	assert.Same(t, outer, got.(*NotesNode))

	inner := NewNotes("section level")
	inner.SetAttr(AttrName, "Setting")
	s.Append(inner)
	got, err = c.FindFromParent("Notes[@Name='Setting']")
	require.NoError(t, err)
	assert.Same(t, inner, got.(*NotesNode))

	_, err = c.FindFromParent("Histogram")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOrGetChild(t *testing.T) {
	b := NewBlock("TEM")

	created, first := b.CreateOrGetChild(NewSection(4), AttrNumber)
	assert.True(t, created)
	created, again := b.CreateOrGetChild(NewSection(4), AttrNumber)
	assert.False(t, created)
	assert.Same(t, first.(*SectionNode), again.(*SectionNode))
	assert.Equal(t, 1, b.ChildCount())

	_, typed, err := b.GetOrCreateSection(4)
	require.NoError(t, err)
	assert.Same(t, first.(*SectionNode), typed)

	b.Append(NewNotes("x"))
	notes := NewFile(TagNotes, "n.txt")
	_, _, err = GetOrCreate(b, notes)
	assert.Error(t, err, "existing child has another type")
}

func TestChildrenAndRemoveByQuery(t *testing.T) {
	b := NewBlock("TEM")
	for i := 1; i <= 3; i++ {
		b.Append(NewSection(i))
	}
	b.Append(NewNotes("n"))
	assert.Len(t, b.Children(), 4)

	b.clearChanged()
	n, err := b.RemoveChildrenByQuery("Section[@Number='2']")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, b.ChildrenChanged())
	assert.Equal(t, 3, b.ChildCount())

	n, err = b.RemoveChildrenByQuery("Section")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, b.ChildCount())
}
