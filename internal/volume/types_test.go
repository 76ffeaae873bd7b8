package volume

import (
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisteredTags(t *testing.T) {
	tags := RegisteredTags()
	for _, tag := range []string{TagVolume, TagBlock, TagSection, TagChannel, TagFilter, TagTilePyramid, TagLevel, TagImageSet, TagImage, TagTransform, TagHistogram, TagNotes, TagSectionNumbers} {
		assert.Contains(t, tags, tag)
	}
	assert.Panics(t, func() { RegisterType(TagBlock, func() Element { return &BlockNode{} }) })
}

func TestPaths(t *testing.T) {
	vol := newVolume(t, newTestFS(t))
	blk, filter := buildFilter(t, vol)
	assert.Equal(t, "vol/TEM", blk.FullPath())
	assert.Equal(t, "vol/TEM/0001/TEM/Leveled", filter.FullPath())

	_, pyr, err := filter.GetOrCreateTilePyramid()
	require.NoError(t, err)
	_, lvl, err := pyr.GetOrCreateLevel(8)
	require.NoError(t, err)
	assert.Equal(t, "vol/TEM/0001/TEM/Leveled/TilePyramid/008", lvl.FullPath())

	_, set, err := filter.GetOrCreateImageSet()
	require.NoError(t, err)
	_, img, err := set.GetOrCreateImage(2, "Leveled.png")
	require.NoError(t, err)
	assert.Equal(t, "vol/TEM/0001/TEM/Leveled/Images/002/Leveled.png", img.FullPath())

	got, err := set.Image(2)
	require.NoError(t, err)
	assert.Same(t, img, got)
}

func TestFileValidation_Checksum(t *testing.T) {
	fsys := newTestFS(t)
	vol := newVolume(t, fsys)
	_, filter := buildFilter(t, vol)
	_, set, err := filter.GetOrCreateImageSet()
	require.NoError(t, err)
	_, img, err := set.GetOrCreateImage(1, "a.png")
	require.NoError(t, err)

	ok, reason := img.IsValid()
	assert.False(t, ok)
	assert.Equal(t, ReasonMissingFile, reason)

	require.NoError(t, util.WriteFile(fsys, img.FullPath(), []byte("pixels"), 0o644))
	require.NoError(t, img.RecordChecksum())
	assert.True(t, img.NeedsValidation())
	ok, reason = img.IsValid()
	require.True(t, ok, reason)
	assert.False(t, img.NeedsValidation())

	require.NoError(t, util.WriteFile(fsys, img.FullPath(), []byte("other pixels"), 0o644))
	ok, reason = img.IsValid()
	assert.False(t, ok)
	assert.Equal(t, ReasonChecksum, reason)

	cleaned, err := img.CleanIfInvalid()
	require.NoError(t, err)
	assert.True(t, cleaned)
	_, err = fsys.Stat("vol/TEM/0001/TEM/Leveled/Images/001/a.png")
	assert.Error(t, err)
}

func TestLevelValidation_TileCount(t *testing.T) {
	fsys := newTestFS(t)
	vol := newVolume(t, fsys)
	_, filter := buildFilter(t, vol)
	_, pyr, err := filter.GetOrCreateTilePyramid()
	require.NoError(t, err)
	pyr.SetNumberOfTiles(3)
	_, lvl, err := pyr.GetOrCreateLevel(1)
	require.NoError(t, err)

	ok, reason := lvl.IsValid()
	assert.False(t, ok)
	assert.Equal(t, ReasonMissingDir, reason)

	for i := range 2 {
		require.NoError(t, util.WriteFile(fsys, fmt.Sprintf("%s/%03d.png", lvl.FullPath(), i), []byte("t"), 0o644))
	}
	require.NoError(t, util.WriteFile(fsys, lvl.FullPath()+"/notes.txt", []byte("t"), 0o644))
	ok, reason = lvl.IsValid()
	assert.False(t, ok)
	assert.Equal(t, ReasonTileCount, reason)

	require.NoError(t, util.WriteFile(fsys, lvl.FullPath()+"/002.png", []byte("t"), 0o644))
	ok, reason = lvl.IsValid()
	require.True(t, ok, reason)
	vt, ok := lvl.ValidationTime()
	require.True(t, ok)
	assert.True(t, vt.Equal(stat(t, fsys, lvl.FullPath()).ModTime()))
}

func TestTransformValidation_InputChecksum(t *testing.T) {
	fsys := newTestFS(t)
	vol := newVolume(t, fsys)
	_, blk, err := vol.GetOrCreateBlock("TEM")
	require.NoError(t, err)
	_, sec, err := blk.GetOrCreateSection(1)
	require.NoError(t, err)
	_, ch, err := sec.GetOrCreateChannel("TEM")
	require.NoError(t, err)

	_, stage, err := ch.GetOrCreateTransform("Stage", "stage", "stage.mosaic")
	require.NoError(t, err)
	_, grid, err := ch.GetOrCreateTransform("Grid", "grid", "grid.mosaic")
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(fsys, stage.FullPath(), []byte("stage v1"), 0o644))
	require.NoError(t, util.WriteFile(fsys, grid.FullPath(), []byte("grid"), 0o644))
	require.NoError(t, stage.RecordChecksum())
	grid.SetInput(stage)

	ok, reason := grid.IsValid()
	require.True(t, ok, reason)

	require.NoError(t, util.WriteFile(fsys, stage.FullPath(), []byte("stage v2"), 0o644))
	require.NoError(t, stage.RecordChecksum())
	ok, reason = grid.IsValid()
	assert.False(t, ok)
	assert.Equal(t, ReasonInputChecksum, reason)

	got, err := ch.Transform("Grid")
	require.NoError(t, err)
	assert.Same(t, grid, got)
}

func TestHistogramValidation(t *testing.T) {
	fsys := newTestFS(t)
	vol := newVolume(t, fsys)
	_, filter := buildFilter(t, vol)
	h := NewHistogram("Histogram.xml", "Histogram.png")
	filter.Append(h)

	require.NoError(t, util.WriteFile(fsys, h.FullPath(), []byte("<Histogram/>"), 0o644))
	ok, reason := h.IsValid()
	assert.False(t, ok)
	assert.Equal(t, ReasonMissingCompanion, reason)

	require.NoError(t, util.WriteFile(fsys, filter.FullPath()+"/Histogram.png", []byte("png"), 0o644))
	ok, reason = h.IsValid()
	assert.True(t, ok, reason)

	got, err := filter.Histogram()
	require.NoError(t, err)
	assert.Same(t, h, got)
}

func TestNonStosSectionNumbers(t *testing.T) {
	fsys := newTestFS(t)
	vol := newVolume(t, fsys)
	_, blk, err := vol.GetOrCreateBlock("TEM")
	require.NoError(t, err)

	set, err := blk.NonStosSectionNumbers()
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())

	require.NoError(t, blk.SetNonStosSectionNumbers(roaring.BitmapOf(12, 3)))
	require.NoError(t, vol.Save())

	blk2, err := reload(t, fsys).Block("TEM")
	require.NoError(t, err)
	set, err = blk2.NonStosSectionNumbers()
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 12}, set.ToArray())

	blk2.clearChanged()
	require.NoError(t, blk2.SetNonStosSectionNumbers(roaring.BitmapOf(3, 12)))
	assert.False(t, HasChangesToSave(blk2), "equal set is a no-op")
}

func TestFilterAccessors(t *testing.T) {
	f := NewFilter("Raw8")
	_, ok := f.BitsPerPixel()
	assert.False(t, ok)
	f.SetBitsPerPixel(8)
	f.SetMaskName("Mask")
	bpp, ok := f.BitsPerPixel()
	assert.True(t, ok)
	assert.Equal(t, 8, bpp)
	assert.Equal(t, "Mask", f.MaskName())
	assert.False(t, f.Locked())
	f.SetLocked(true)
	assert.True(t, f.Locked())
}
