package volume

import (
	"errors"
	"fmt"

	"github.com/agentic-research/voltree/internal/xmldoc"
)

var (
	ErrNotFound = errors.New("node not found")

	// ErrDetached is returned by operations that need the filesystem on a
	// node that is not (yet) part of a loaded volume.
	ErrDetached = errors.New("node is not attached to a volume")

	// ErrNoDocument is returned when neither a node nor any of its ancestors
	// persists its own document.
	ErrNoDocument = errors.New("no ancestor can save this node")

	ErrEmptyDocument = xmldoc.ErrEmptyDocument
	ErrBadQuery      = errors.New("malformed query")
)

// Reasons reported by IsValid.
const (
	ReasonOutdated         = "Node version outdated"
	ReasonDetached         = "Node is not attached to a volume"
	ReasonMissingDir       = "Directory does not exist"
	ReasonMissingFile      = "File does not exist"
	ReasonChecksum         = "Checksum mismatch"
	ReasonTileCount        = "Tile count mismatch"
	ReasonMissingCompanion = "Companion file does not exist"
)

// LinkError records why a link placeholder could not be resolved.
type LinkError struct {
	Path string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("resolve link %s: %v", e.Path, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }
