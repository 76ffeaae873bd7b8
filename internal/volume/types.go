package volume

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

const (
	TagVolume         = "Volume"
	TagBlock          = "Block"
	TagSection        = "Section"
	TagChannel        = "Channel"
	TagFilter         = "Filter"
	TagTilePyramid    = "TilePyramid"
	TagLevel          = "Level"
	TagImageSet       = "ImageSet"
	TagImage          = "Image"
	TagTransform      = "Transform"
	TagHistogram      = "Histogram"
	TagNotes          = "Notes"
	TagSectionNumbers = "SectionNumbers"
	TagStosGroup      = "StosGroup"
)

func init() {
	RegisterType(TagVolume, func() Element { return &VolumeNode{} })
	RegisterType(TagBlock, func() Element { return &BlockNode{} })
	RegisterType(TagSection, func() Element { return &SectionNode{} })
	RegisterType(TagChannel, func() Element { return &ChannelNode{} })
	RegisterType(TagFilter, func() Element { return &FilterNode{} })
	RegisterType(TagTilePyramid, func() Element { return &TilePyramidNode{} })
	RegisterType(TagLevel, func() Element { return &LevelNode{} })
	RegisterType(TagImageSet, func() Element { return &ImageSetNode{} })
	RegisterType(TagImage, func() Element { return &ImageNode{} })
	RegisterType(TagTransform, func() Element { return &TransformNode{} })
	RegisterType(TagHistogram, func() Element { return &HistogramNode{} })
	RegisterType(TagNotes, func() Element { return &NotesNode{} })
	RegisterType(TagSectionNumbers, func() Element { return &SectionNumbersNode{} })
}

// byAttr formats a step predicate matching value exactly.
func byAttr(name, value string) string {
	if strings.ContainsRune(value, '\'') {
		return fmt.Sprintf(`[@%s="%s"]`, name, value)
	}
	return fmt.Sprintf("[@%s='%s']", name, value)
}

func findAllAs[T Element](from Element, query string) ([]T, error) {
	all, err := from.Base().FindAll(query)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, e := range all {
		if t, ok := e.(T); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// named is the Name accessor shared by the named containers.
func named(n *Node) string {
	v, _ := n.Attr(AttrName)
	return v
}

// VolumeNode is the root of a volume. It is the only node that knows its
// Manager; every other node finds it through the root.
type VolumeNode struct {
	ContainerNode
	mgr *Manager
}

func NewVolume(path string) *VolumeNode {
	v := &VolumeNode{}
	initElement(v, TagVolume)
	v.SetPath(path)
	return v
}

func (v *VolumeNode) Name() string { return named(&v.Node) }

func (v *VolumeNode) Blocks() ([]*BlockNode, error) {
	return findAllAs[*BlockNode](v, TagBlock)
}

func (v *VolumeNode) Block(name string) (*BlockNode, error) {
	return FindFirstAs[*BlockNode](v, TagBlock+byAttr(AttrName, name))
}

func (v *VolumeNode) GetOrCreateBlock(name string) (bool, *BlockNode, error) {
	return GetOrCreate(v, NewBlock(name), AttrName)
}

// BlockNode groups the sections imaged together.
type BlockNode struct {
	ContainerNode
}

func NewBlock(name string) *BlockNode {
	b := &BlockNode{}
	initElement(b, TagBlock)
	b.SetAttr(AttrName, name)
	b.SetPath(name)
	return b
}

func (b *BlockNode) Name() string { return named(&b.Node) }

func (b *BlockNode) Sections() ([]*SectionNode, error) {
	return findAllAs[*SectionNode](b, TagSection)
}

func (b *BlockNode) Section(number int) (*SectionNode, error) {
	return FindFirstAs[*SectionNode](b, TagSection+byAttr(AttrNumber, fmt.Sprint(number)))
}

func (b *BlockNode) GetOrCreateSection(number int) (bool, *SectionNode, error) {
	return GetOrCreate(b, NewSection(number), AttrNumber)
}

const nonStosName = "NonStos"

// NonStosSectionNumbers is the set of sections excluded from slice-to-slice
// registration. It is empty when none were recorded.
func (b *BlockNode) NonStosSectionNumbers() (*roaring.Bitmap, error) {
	sn, err := FindFirstAs[*SectionNumbersNode](b, TagSectionNumbers+byAttr(AttrName, nonStosName))
	if err != nil {
		return roaring.New(), nil
	}
	return sn.Numbers()
}

func (b *BlockNode) SetNonStosSectionNumbers(set *roaring.Bitmap) error {
	_, sn, err := GetOrCreate(b, NewSectionNumbers(nonStosName), AttrName)
	if err != nil {
		return err
	}
	sn.SetNumbers(set)
	return nil
}

// StosGroups returns the slice-to-slice registration groups of the block.
// The group type is not registered, so groups come back as the inferred
// default type.
func (b *BlockNode) StosGroups() ([]Element, error) {
	return b.FindAll(TagStosGroup)
}

const AttrNumber = "Number"

// SectionNode is one physical section of the block.
type SectionNode struct {
	ContainerNode
}

func NewSection(number int) *SectionNode {
	s := &SectionNode{}
	initElement(s, TagSection)
	s.SetAttrInt(AttrNumber, number)
	s.SetPath(fmt.Sprintf("%04d", number))
	return s
}

func (s *SectionNode) Number() int {
	v, _ := s.AttrInt(AttrNumber)
	return v
}

func (s *SectionNode) Name() string { return named(&s.Node) }

func (s *SectionNode) SortKey() (string, bool) {
	return fmt.Sprintf("%04d", s.Number()), true
}

func (s *SectionNode) Channels() ([]*ChannelNode, error) {
	return findAllAs[*ChannelNode](s, TagChannel)
}

func (s *SectionNode) Channel(name string) (*ChannelNode, error) {
	return FindFirstAs[*ChannelNode](s, TagChannel+byAttr(AttrName, name))
}

func (s *SectionNode) GetOrCreateChannel(name string) (bool, *ChannelNode, error) {
	return GetOrCreate(s, NewChannel(name), AttrName)
}

// ChannelNode holds the filters and transforms of one imaging channel.
type ChannelNode struct {
	ContainerNode
}

func NewChannel(name string) *ChannelNode {
	c := &ChannelNode{}
	initElement(c, TagChannel)
	c.SetAttr(AttrName, name)
	c.SetPath(name)
	return c
}

func (c *ChannelNode) Name() string { return named(&c.Node) }

func (c *ChannelNode) Filters() ([]*FilterNode, error) {
	return findAllAs[*FilterNode](c, TagFilter)
}

func (c *ChannelNode) Filter(name string) (*FilterNode, error) {
	return FindFirstAs[*FilterNode](c, TagFilter+byAttr(AttrName, name))
}

func (c *ChannelNode) GetOrCreateFilter(name string) (bool, *FilterNode, error) {
	return GetOrCreate(c, NewFilter(name), AttrName)
}

func (c *ChannelNode) Transform(name string) (*TransformNode, error) {
	return FindFirstAs[*TransformNode](c, TagTransform+byAttr(AttrName, name))
}

func (c *ChannelNode) GetOrCreateTransform(name, typ, path string) (bool, *TransformNode, error) {
	return GetOrCreate(c, NewTransform(name, typ, path), AttrName)
}

// FilterNode is one processed variant of a channel's images.
type FilterNode struct {
	ContainerNode
}

const (
	AttrBitsPerPixel = "BitsPerPixel"
	AttrMaskName     = "MaskName"
)

func NewFilter(name string) *FilterNode {
	f := &FilterNode{}
	initElement(f, TagFilter)
	f.SetAttr(AttrName, name)
	f.SetPath(name)
	return f
}

func (f *FilterNode) Name() string { return named(&f.Node) }

func (f *FilterNode) BitsPerPixel() (int, bool) { return f.AttrInt(AttrBitsPerPixel) }

func (f *FilterNode) SetBitsPerPixel(bpp int) { f.SetAttrInt(AttrBitsPerPixel, bpp) }

func (f *FilterNode) MaskName() string {
	v, _ := f.Attr(AttrMaskName)
	return v
}

func (f *FilterNode) SetMaskName(name string) { f.SetAttr(AttrMaskName, name) }

func (f *FilterNode) TilePyramid() (*TilePyramidNode, error) {
	return FindFirstAs[*TilePyramidNode](f, TagTilePyramid)
}

func (f *FilterNode) GetOrCreateTilePyramid() (bool, *TilePyramidNode, error) {
	return GetOrCreate(f, NewTilePyramid(), AttrPath)
}

func (f *FilterNode) ImageSet() (*ImageSetNode, error) {
	return FindFirstAs[*ImageSetNode](f, TagImageSet)
}

func (f *FilterNode) GetOrCreateImageSet() (bool, *ImageSetNode, error) {
	return GetOrCreate(f, NewImageSet(), AttrPath)
}

func (f *FilterNode) Histogram() (*HistogramNode, error) {
	return FindFirstAs[*HistogramNode](f, TagHistogram)
}

const (
	AttrNumberOfTiles  = "NumberOfTiles"
	AttrImageFormatExt = "ImageFormatExt"
	AttrLevelFormat    = "LevelFormat"
	AttrDownsample     = "Downsample"

	defaultLevelFormat    = "%03d"
	defaultImageFormatExt = ".png"
)

// TilePyramidNode holds the tiles of a filter at successive downsample
// levels, one directory per level.
type TilePyramidNode struct {
	ContainerNode
}

func NewTilePyramid() *TilePyramidNode {
	t := &TilePyramidNode{}
	initElement(t, TagTilePyramid)
	t.SetPath(TagTilePyramid)
	t.SetAttr(AttrImageFormatExt, defaultImageFormatExt)
	t.SetAttr(AttrLevelFormat, defaultLevelFormat)
	return t
}

func (t *TilePyramidNode) NumberOfTiles() int {
	v, _ := t.AttrInt(AttrNumberOfTiles)
	return v
}

func (t *TilePyramidNode) SetNumberOfTiles(n int) { t.SetAttrInt(AttrNumberOfTiles, n) }

func (t *TilePyramidNode) ImageFormatExt() string {
	if v, ok := t.Attr(AttrImageFormatExt); ok {
		return v
	}
	return defaultImageFormatExt
}

func (t *TilePyramidNode) LevelFormat() string {
	if v, ok := t.Attr(AttrLevelFormat); ok && v != "" {
		return v
	}
	return defaultLevelFormat
}

// Levels returns the pyramid levels ordered by ascending downsample.
func (t *TilePyramidNode) Levels() ([]*LevelNode, error) {
	return sortedLevels(t)
}

func (t *TilePyramidNode) Level(downsample float64) (*LevelNode, error) {
	return FindFirstAs[*LevelNode](t, TagLevel+byAttr(AttrDownsample, FormatFloat(downsample)))
}

func (t *TilePyramidNode) GetOrCreateLevel(downsample float64) (bool, *LevelNode, error) {
	return GetOrCreate(t, NewLevel(downsample, t.LevelFormat()), AttrDownsample)
}

func sortedLevels(parent Element) ([]*LevelNode, error) {
	levels, err := findAllAs[*LevelNode](parent, TagLevel)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(levels, func(a, b *LevelNode) int {
		switch da, db := a.Downsample(), b.Downsample(); {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})
	return levels, nil
}

// LevelNode is one downsample level of a pyramid or image set. Levels are
// stored inline in their parent's document so that saving metadata never
// touches the level directory, whose modification time is what validation
// compares against.
type LevelNode struct {
	ContainerNode
}

// NewLevel names the level directory by formatting the integer downsample
// with format.
func NewLevel(downsample float64, format string) *LevelNode {
	l := &LevelNode{}
	initElement(l, TagLevel)
	l.SetAttrFloat(AttrDownsample, downsample)
	if format == "" {
		format = defaultLevelFormat
	}
	l.SetPath(fmt.Sprintf(format, int(downsample)))
	return l
}

func (l *LevelNode) SaveAsLinked() bool { return false }

func (l *LevelNode) Downsample() float64 {
	v, _ := l.AttrFloat(AttrDownsample)
	return v
}

func (l *LevelNode) SortKey() (string, bool) {
	return fmt.Sprintf("%s%012.3f", TagLevel, l.Downsample()), true
}

// IsValid adds a tile count check when the level belongs to a pyramid that
// records how many tiles each level holds.
func (l *LevelNode) IsValid() (bool, string) {
	if ok, reason := l.checkStructure(); !ok {
		return false, reason
	}
	if p, ok := l.Parent().(*TilePyramidNode); ok && p.NumberOfTiles() > 0 {
		count, err := l.countTiles(p.ImageFormatExt())
		if err != nil || count != p.NumberOfTiles() {
			return false, ReasonTileCount
		}
	}
	return l.ContainerNode.IsValid()
}

func (l *LevelNode) countTiles(ext string) (int, error) {
	entries, err := l.Manager().fs.ReadDir(l.FullPath())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, fi := range entries {
		if fi.Mode().IsRegular() && strings.EqualFold(filepath.Ext(fi.Name()), ext) {
			count++
		}
	}
	return count, nil
}

// ImageSetNode holds one assembled image per downsample level.
type ImageSetNode struct {
	ContainerNode
}

func NewImageSet() *ImageSetNode {
	s := &ImageSetNode{}
	initElement(s, TagImageSet)
	s.SetPath("Images")
	return s
}

func (s *ImageSetNode) Levels() ([]*LevelNode, error) {
	return sortedLevels(s)
}

func (s *ImageSetNode) GetOrCreateLevel(downsample float64) (bool, *LevelNode, error) {
	return GetOrCreate(s, NewLevel(downsample, defaultLevelFormat), AttrDownsample)
}

// GetOrCreateImage returns the image stored as file in the level for
// downsample, creating the level as needed.
func (s *ImageSetNode) GetOrCreateImage(downsample float64, file string) (bool, *ImageNode, error) {
	_, lvl, err := s.GetOrCreateLevel(downsample)
	if err != nil {
		return false, nil, err
	}
	return GetOrCreate(lvl, NewImage(file), AttrPath)
}

// Image returns the image of the level for downsample.
func (s *ImageSetNode) Image(downsample float64) (*ImageNode, error) {
	q := TagLevel + byAttr(AttrDownsample, FormatFloat(downsample)) + "/" + TagImage
	return FindFirstAs[*ImageNode](s, q)
}

const (
	AttrWidth  = "Width"
	AttrHeight = "Height"
)

type ImageNode struct {
	FileNode
}

func NewImage(path string) *ImageNode {
	i := &ImageNode{}
	initElement(i, TagImage)
	i.SetPath(path)
	return i
}

func (i *ImageNode) Dimensions() (width, height int, ok bool) {
	w, okw := i.AttrInt(AttrWidth)
	h, okh := i.AttrInt(AttrHeight)
	return w, h, okw && okh
}

func (i *ImageNode) SetDimensions(width, height int) {
	i.SetAttrInt(AttrWidth, width)
	i.SetAttrInt(AttrHeight, height)
}

const (
	AttrType                   = "Type"
	AttrInputTransform         = "InputTransform"
	AttrInputTransformChecksum = "InputTransformChecksum"

	ReasonInputChecksum = "Input transform checksum mismatch"
)

// TransformNode is a registration transform file. A transform computed from
// another records that input's checksum and becomes invalid when the input
// changes.
type TransformNode struct {
	FileNode
}

func NewTransform(name, typ, path string) *TransformNode {
	t := &TransformNode{}
	initElement(t, TagTransform)
	t.SetAttr(AttrName, name)
	t.SetAttr(AttrType, typ)
	t.SetPath(path)
	return t
}

func (t *TransformNode) Name() string { return named(&t.Node) }

func (t *TransformNode) Type() string {
	v, _ := t.Attr(AttrType)
	return v
}

// SetInput records input as the transform this one was computed from.
func (t *TransformNode) SetInput(input *TransformNode) {
	t.SetAttr(AttrInputTransform, input.Name())
	sum, _ := input.Attr(AttrChecksum)
	t.SetAttr(AttrInputTransformChecksum, sum)
}

func (t *TransformNode) IsValid() (bool, string) {
	if ok, reason := validateFile(&t.ResourceNode); !ok {
		return false, reason
	}
	name, hasInput := t.Attr(AttrInputTransform)
	want, hasSum := t.Attr(AttrInputTransformChecksum)
	if !hasInput || !hasSum || want == "" {
		return true, ""
	}
	input, err := FindFirstAs[*TransformNode](t.Parent(), TagTransform+byAttr(AttrName, name))
	if err != nil {
		return true, ""
	}
	if got, _ := input.Attr(AttrChecksum); got != want {
		return false, ReasonInputChecksum
	}
	return true, ""
}

const AttrImagePath = "ImagePath"

// HistogramNode is a histogram data file with a rendered image beside it.
type HistogramNode struct {
	FileNode
}

func NewHistogram(dataPath, imagePath string) *HistogramNode {
	h := &HistogramNode{}
	initElement(h, TagHistogram)
	h.SetPath(dataPath)
	h.SetAttr(AttrImagePath, imagePath)
	return h
}

func (h *HistogramNode) ImagePath() string {
	v, _ := h.Attr(AttrImagePath)
	return v
}

func (h *HistogramNode) IsValid() (bool, string) {
	if ok, reason := validateFile(&h.ResourceNode); !ok {
		return false, reason
	}
	if img := h.ImagePath(); img != "" {
		full := filepath.Join(parentDir(h.Parent()), img)
		if _, err := h.Manager().fs.Stat(full); err != nil {
			return false, ReasonMissingCompanion
		}
	}
	return true, ""
}

// NotesNode carries free text.
type NotesNode struct {
	Node
}

func NewNotes(text string) *NotesNode {
	n := &NotesNode{}
	initElement(n, TagNotes)
	n.SetText(text)
	return n
}

// SectionNumbersNode stores a named set of section numbers as its text.
type SectionNumbersNode struct {
	Node
}

func NewSectionNumbers(name string) *SectionNumbersNode {
	s := &SectionNumbersNode{}
	initElement(s, TagSectionNumbers)
	s.SetAttr(AttrName, name)
	return s
}

func (s *SectionNumbersNode) Numbers() (*roaring.Bitmap, error) {
	set, err := parseIntSet(s.Text())
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", TagSectionNumbers, named(&s.Node), err)
	}
	return set, nil
}

// SetNumbers stores set in ascending order; an equal set is a no-op.
func (s *SectionNumbersNode) SetNumbers(set *roaring.Bitmap) {
	s.SetText(formatIntSet(set))
}
