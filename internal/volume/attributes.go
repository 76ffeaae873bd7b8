package volume

import (
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// Well-known attribute names.
const (
	AttrPath           = "Path"
	AttrName           = "Name"
	AttrVersion        = "Version"
	AttrCreationDate   = "CreationDate"
	AttrValidationTime = "ValidationTime"
	AttrChecksum       = "Checksum"
	AttrLocked         = "Locked"
)

// CreationDateLayout is the format of the CreationDate attribute.
const CreationDateLayout = "2006-01-02 15:04:05"

// floatPrecision is the number of significant digits kept when a float is
// stored as an attribute. Values round-trip exactly at this precision.
const floatPrecision = 10

// attributes is an insertion-ordered string map.
type attributes struct {
	mu   sync.RWMutex
	keys []string
	vals map[string]string
}

func (a *attributes) get(name string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.vals[name]
	return v, ok
}

// set stores value and reports whether the stored string changed.
func (a *attributes) set(name, value string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.vals[name]
	if ok && old == value {
		return false
	}
	if a.vals == nil {
		a.vals = make(map[string]string)
	}
	if !ok {
		a.keys = append(a.keys, name)
	}
	a.vals[name] = value
	return true
}

func (a *attributes) del(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.vals[name]; !ok {
		return false
	}
	delete(a.vals, name)
	a.keys = slices.DeleteFunc(a.keys, func(k string) bool { return k == name })
	return true
}

type attr struct {
	name, value string
}

func (a *attributes) snapshot() []attr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]attr, 0, len(a.keys))
	for _, k := range a.keys {
		out = append(out, attr{k, a.vals[k]})
	}
	return out
}

// replace installs a copy of other's content.
func (a *attributes) replace(other []attr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = make([]string, 0, len(other))
	a.vals = make(map[string]string, len(other))
	for _, kv := range other {
		if _, dup := a.vals[kv.name]; !dup {
			a.keys = append(a.keys, kv.name)
		}
		a.vals[kv.name] = kv.value
	}
}

// Attr returns the raw string value of an attribute.
func (n *Node) Attr(name string) (string, bool) {
	return n.attrs.get(name)
}

// AttrNames returns attribute names in insertion order.
func (n *Node) AttrNames() []string {
	n.attrs.mu.RLock()
	defer n.attrs.mu.RUnlock()
	return slices.Clone(n.attrs.keys)
}

// Attrs returns name/value pairs in insertion order.
func (n *Node) Attrs() [][2]string {
	snap := n.attrs.snapshot()
	out := make([][2]string, len(snap))
	for i, kv := range snap {
		out[i] = [2]string{kv.name, kv.value}
	}
	return out
}

// SetAttr stores a string attribute. The node is marked changed only when
// the stored value differs. CreationDate is write-once.
func (n *Node) SetAttr(name, value string) {
	if name == AttrCreationDate {
		if _, ok := n.attrs.get(name); ok {
			return
		}
	}
	if !n.attrs.set(name, value) {
		return
	}
	n.attributesChanged.Store(true)
	if name == AttrPath {
		n.invalidatePaths()
	}
}

// DeleteAttr removes an attribute and reports whether it existed.
func (n *Node) DeleteAttr(name string) bool {
	if !n.attrs.del(name) {
		return false
	}
	n.attributesChanged.Store(true)
	if name == AttrPath {
		n.invalidatePaths()
	}
	return true
}

func (n *Node) SetAttrInt(name string, v int) { n.SetAttr(name, strconv.Itoa(v)) }

func (n *Node) AttrInt(name string) (int, bool) {
	s, ok := n.Attr(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatFloat is the canonical attribute form of a float.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', floatPrecision, 64)
}

func (n *Node) SetAttrFloat(name string, v float64) { n.SetAttr(name, FormatFloat(v)) }

func (n *Node) AttrFloat(name string) (float64, bool) {
	s, ok := n.Attr(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (n *Node) SetAttrBool(name string, v bool) {
	if v {
		n.SetAttr(name, "True")
	} else {
		n.SetAttr(name, "False")
	}
}

func (n *Node) AttrBool(name string) (bool, bool) {
	s, ok := n.Attr(name)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false
	}
	return v, true
}

// SetAttrTime stores t in UTC with nanosecond precision.
func (n *Node) SetAttrTime(name string, t time.Time) {
	n.SetAttr(name, t.UTC().Format(time.RFC3339Nano))
}

// AttrTime parses RFC 3339 values and the CreationDate layout.
func (n *Node) AttrTime(name string) (time.Time, bool) {
	s, ok := n.Attr(name)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(CreationDateLayout, s, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// SetAttrStrings stores a comma-delimited list.
func (n *Node) SetAttrStrings(name string, values []string) {
	n.SetAttr(name, strings.Join(values, ","))
}

func (n *Node) AttrStrings(name string) ([]string, bool) {
	s, ok := n.Attr(name)
	if !ok {
		return nil, false
	}
	return splitList(s), true
}

func (n *Node) SetAttrInts(name string, values []int) {
	n.SetAttr(name, formatInts(values))
}

func (n *Node) AttrInts(name string) ([]int, bool) {
	s, ok := n.Attr(name)
	if !ok {
		return nil, false
	}
	v, err := parseInts(s)
	if err != nil {
		return nil, false
	}
	return v, true
}

// SetAttrIntSet stores a set of non-negative integers in ascending order,
// so equal sets never dirty the node.
func (n *Node) SetAttrIntSet(name string, set *roaring.Bitmap) {
	n.SetAttr(name, formatIntSet(set))
}

func (n *Node) AttrIntSet(name string) (*roaring.Bitmap, bool) {
	s, ok := n.Attr(name)
	if !ok {
		return nil, false
	}
	set, err := parseIntSet(s)
	if err != nil {
		return nil, false
	}
	return set, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func parseInts(s string) ([]int, error) {
	parts := splitList(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func formatIntSet(set *roaring.Bitmap) string {
	if set == nil {
		return ""
	}
	vals := set.ToArray()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}

func parseIntSet(s string) (*roaring.Bitmap, error) {
	set := roaring.New()
	for _, p := range splitList(s) {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		set.Add(uint32(v))
	}
	return set, nil
}
