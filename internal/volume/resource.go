package volume

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentic-research/voltree/internal/checksum"
)

// Resource is an element backed by a file or directory.
type Resource interface {
	Element
	FullPath() string
	resource() *ResourceNode
}

// ResourceNode adds a filesystem path to Node. The full path is the join of
// every resource path from the root down and is cached until the node's
// Path attribute or parent chain changes.
type ResourceNode struct {
	Node

	cacheMu  sync.Mutex
	fullPath string
	sum      string
}

func (r *ResourceNode) resource() *ResourceNode { return r }

func (r *ResourceNode) resetPath() {
	r.cacheMu.Lock()
	r.fullPath = ""
	r.cacheMu.Unlock()
}

// Path is the node's own path segment.
func (r *ResourceNode) Path() string {
	p, _ := r.Attr(AttrPath)
	return p
}

func (r *ResourceNode) SetPath(p string) { r.SetAttr(AttrPath, p) }

// FullPath is the node's path relative to the volume filesystem root.
func (r *ResourceNode) FullPath() string {
	r.cacheMu.Lock()
	cached := r.fullPath
	r.cacheMu.Unlock()
	if cached != "" {
		return cached
	}

	full := filepath.Join(parentDir(r.Parent()), r.Path())
	r.cacheMu.Lock()
	r.fullPath = full
	r.cacheMu.Unlock()
	return full
}

// parentDir returns the full path of the nearest resource at or above e.
func parentDir(e Element) string {
	for e != nil {
		if r, ok := e.(Resource); ok {
			return r.FullPath()
		}
		e = e.Base().Parent()
	}
	return ""
}

// Checksum returns the BLAKE3 digest of the file at FullPath. The value is
// cached; call ResetChecksum after the file changes.
func (r *ResourceNode) Checksum() (string, error) {
	r.cacheMu.Lock()
	cached := r.sum
	r.cacheMu.Unlock()
	if cached != "" {
		return cached, nil
	}
	mgr := r.Manager()
	if mgr == nil {
		return "", ErrDetached
	}
	sum, err := checksum.File(mgr.fs, r.FullPath())
	if err != nil {
		return "", err
	}
	r.cacheMu.Lock()
	r.sum = sum
	r.cacheMu.Unlock()
	return sum, nil
}

func (r *ResourceNode) ResetChecksum() {
	r.cacheMu.Lock()
	r.sum = ""
	r.cacheMu.Unlock()
}

// RecordChecksum stores the current file checksum in the Checksum attribute,
// so later validations detect changes to the file.
func (r *ResourceNode) RecordChecksum() error {
	r.ResetChecksum()
	sum, err := r.Checksum()
	if err != nil {
		return err
	}
	r.SetAttr(AttrChecksum, sum)
	return nil
}

func (r *ResourceNode) ValidationTime() (time.Time, bool) {
	return r.AttrTime(AttrValidationTime)
}

func (r *ResourceNode) SetValidationTime(t time.Time) {
	r.SetAttrTime(AttrValidationTime, t)
}

// stat returns the file info of the node's filesystem object.
func (r *ResourceNode) stat() (fs.FileInfo, error) {
	mgr := r.Manager()
	if mgr == nil {
		return nil, ErrDetached
	}
	return mgr.fs.Stat(r.FullPath())
}

// modifiedSinceValidation reports whether the object changed after the
// recorded ValidationTime. A missing stamp or object counts as modified.
func (r *ResourceNode) modifiedSinceValidation() bool {
	vt, ok := r.ValidationTime()
	if !ok {
		return true
	}
	fi, err := r.stat()
	if err != nil {
		return true
	}
	return fi.ModTime().After(vt)
}

// FileNode is a resource backed by a single regular file.
type FileNode struct {
	ResourceNode
}

// NewFile returns a file node for path, relative to its future parent.
func NewFile(tag, path string) *FileNode {
	f := &FileNode{}
	initElement(f, tag)
	f.SetPath(path)
	return f
}

func (f *FileNode) NeedsValidation() bool {
	return f.modifiedSinceValidation()
}

// IsValid checks the version gate, that the file exists and, when a checksum
// was recorded, that the content still matches it. A valid file has its
// ValidationTime set to the file's modification time.
func (f *FileNode) IsValid() (bool, string) {
	return validateFile(&f.ResourceNode)
}

func validateFile(r *ResourceNode) (bool, string) {
	if ok, reason := r.Node.IsValid(); !ok {
		return false, reason
	}
	if r.Manager() == nil {
		return false, ReasonDetached
	}
	fi, err := r.stat()
	if err != nil || fi.IsDir() {
		return false, ReasonMissingFile
	}
	if want, ok := r.Attr(AttrChecksum); ok && want != "" {
		r.ResetChecksum()
		got, err := r.Checksum()
		if err != nil || got != want {
			return false, ReasonChecksum
		}
	}
	r.SetValidationTime(fi.ModTime())
	return true, ""
}
