package volume

import (
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanNode(tag string) *Node {
	n := NewNode(tag)
	n.clearChanged()
	return n
}

func TestSetAttr_DirtiesOnlyOnChange(t *testing.T) {
	n := cleanNode("Notes")

	n.SetAttr("Owner", "em")
	assert.True(t, n.AttributesChanged())

	n.clearChanged()
	n.SetAttr("Owner", "em")
	assert.False(t, n.AttributesChanged(), "same value must not dirty")

	n.SetAttrInt("Count", 3)
	n.clearChanged()
	n.SetAttr("Count", "3")
	assert.False(t, n.AttributesChanged(), "coerced equal value must not dirty")

	n.SetAttrInt("Count", 4)
	assert.True(t, n.AttributesChanged())
}

func TestDeleteAttr(t *testing.T) {
	n := cleanNode("Notes")
	assert.False(t, n.DeleteAttr("Missing"))
	assert.False(t, n.AttributesChanged())

	n.SetAttr("Owner", "em")
	n.clearChanged()
	assert.True(t, n.DeleteAttr("Owner"))
	assert.True(t, n.AttributesChanged())
	_, ok := n.Attr("Owner")
	assert.False(t, ok)
}

func TestAttrOrderIsInsertionOrder(t *testing.T) {
	n := cleanNode("Notes")
	n.SetAttr("B", "1")
	n.SetAttr("A", "2")
	n.SetAttr("B", "3")
	names := n.AttrNames()
	assert.Equal(t, []string{AttrVersion, AttrCreationDate, "B", "A"}, names)
}

func TestCreationDateIsWriteOnce(t *testing.T) {
	n := NewNode("Notes")
	before, ok := n.Attr(AttrCreationDate)
	require.True(t, ok)
	n.SetAttr(AttrCreationDate, "1999-01-01 00:00:00")
	after, _ := n.Attr(AttrCreationDate)
	assert.Equal(t, before, after)
}

func TestFloatRoundTrip(t *testing.T) {
	n := cleanNode("Level")
	for _, v := range []float64{1, 0.1, 2.5, 1e-7, 123456.789, 1.0 / 3.0} {
		n.SetAttrFloat("Downsample", v)
		got, ok := n.AttrFloat("Downsample")
		require.True(t, ok)
		assert.Equal(t, FormatFloat(v), FormatFloat(got))
		assert.InEpsilon(t, v, got, 1e-9)

		n.clearChanged()
		n.SetAttrFloat("Downsample", got)
		assert.False(t, n.AttributesChanged(), "re-storing a parsed float must not dirty")
	}
}

func TestTypedAccessors(t *testing.T) {
	n := cleanNode("Filter")

	n.SetAttrBool(AttrLocked, true)
	v, _ := n.Attr(AttrLocked)
	assert.Equal(t, "True", v)
	b, ok := n.AttrBool(AttrLocked)
	assert.True(t, ok)
	assert.True(t, b)

	ts := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	n.SetAttrTime(AttrValidationTime, ts)
	got, ok := n.AttrTime(AttrValidationTime)
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	n.SetAttrStrings("Masks", []string{"a", "b"})
	s, ok := n.AttrStrings("Masks")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, s)

	n.SetAttrInts("Sections", []int{3, -1, 7})
	ints, ok := n.AttrInts("Sections")
	assert.True(t, ok)
	assert.Equal(t, []int{3, -1, 7}, ints)

	n.SetAttr("Broken", "x")
	_, ok = n.AttrInt("Broken")
	assert.False(t, ok)
	_, ok = n.AttrFloat("Broken")
	assert.False(t, ok)
}

func TestIntSetIsCanonical(t *testing.T) {
	n := cleanNode("Block")
	n.SetAttrIntSet("Skip", roaring.BitmapOf(9, 2, 5))
	v, _ := n.Attr("Skip")
	assert.Equal(t, "2,5,9", v)

	n.clearChanged()
	n.SetAttrIntSet("Skip", roaring.BitmapOf(5, 9, 2))
	assert.False(t, n.AttributesChanged())

	set, ok := n.AttrIntSet("Skip")
	require.True(t, ok)
	assert.Equal(t, []uint32{2, 5, 9}, set.ToArray())
}

func TestSetText(t *testing.T) {
	n := cleanNode("Notes")
	n.SetText("hello")
	assert.True(t, n.AttributesChanged())
	n.clearChanged()
	n.SetText("hello")
	assert.False(t, n.AttributesChanged())
}
