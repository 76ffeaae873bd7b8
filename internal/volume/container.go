package volume

import (
	"sync"
)

// Container is a resource that owns a directory and may persist its subtree
// in a document of its own.
type Container interface {
	Resource
	// SaveAsLinked reports whether the subtree is written to its own
	// document and represented in the parent by a link placeholder. When
	// false the subtree is inlined in the parent's document, which keeps
	// the container's directory modification time untouched by saves.
	SaveAsLinked() bool
	container() *ContainerNode
}

// ContainerNode is the default Container: a linked directory.
type ContainerNode struct {
	ResourceNode

	saveMu sync.Mutex // held for the duration of this container's save
}

// NewContainer returns a linked container stored in directory path.
func NewContainer(tag, path string) *ContainerNode {
	c := &ContainerNode{}
	initElement(c, tag)
	c.SetPath(path)
	return c
}

func (c *ContainerNode) container() *ContainerNode { return c }

func (c *ContainerNode) SaveAsLinked() bool { return true }

func (c *ContainerNode) SortKey() (string, bool) {
	return c.tag + c.Path(), true
}

// NeedsValidation is true until IsValid has stamped a ValidationTime that is
// not older than the directory.
func (c *ContainerNode) NeedsValidation() bool {
	return c.modifiedSinceValidation()
}

// IsValid applies the structural checks and records the directory
// modification time as the ValidationTime.
func (c *ContainerNode) IsValid() (bool, string) {
	if ok, reason := c.checkStructure(); !ok {
		return false, reason
	}
	fi, err := c.stat()
	if err != nil {
		return false, ReasonMissingDir
	}
	c.SetValidationTime(fi.ModTime())
	return true, ""
}

// checkStructure is the cheap part of validation: the version gate and the
// existence of the directory. It has no side effects.
func (c *ContainerNode) checkStructure() (bool, string) {
	if ok, reason := c.Node.IsValid(); !ok {
		return false, reason
	}
	if c.Manager() == nil {
		return false, ReasonDetached
	}
	fi, err := c.stat()
	if err != nil || !fi.IsDir() {
		return false, ReasonMissingDir
	}
	return true, ""
}

// structural is implemented by containers whose load-time validation can be
// narrower than IsValid.
type structural interface {
	checkStructure() (bool, string)
}
