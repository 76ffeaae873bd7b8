package xmldoc

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/voltree/internal/checksum"
)

const (
	DefaultDocumentName = "VolumeData.xml"
	DefaultBackupSuffix = ".backup.xml"
)

// ErrEmptyDocument is returned when asked to persist a document without a
// root element. It always indicates a caller bug.
var ErrEmptyDocument = errors.New("refusing to write empty document")

// Store reads and writes the fixed-name document of a directory.
type Store struct {
	fs           billy.Filesystem
	name         string
	backupSuffix string
	log          *slog.Logger
}

// Written describes a document that reached disk.
type Written struct {
	Path      string
	Checksum  string
	Size      int64
	WrittenAt time.Time
}

// NewStore returns a Store using name as the per-directory document name.
// Empty arguments select the defaults.
func NewStore(fsys billy.Filesystem, name, backupSuffix string, logger *slog.Logger) *Store {
	if name == "" {
		name = DefaultDocumentName
	}
	if backupSuffix == "" {
		backupSuffix = DefaultBackupSuffix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fs: fsys, name: name, backupSuffix: backupSuffix, log: logger}
}

// Filesystem returns the filesystem documents are stored on.
func (s *Store) Filesystem() billy.Filesystem { return s.fs }

// DocumentPath returns the document path for dir.
func (s *Store) DocumentPath(dir string) string {
	if dir == "" || dir == "." {
		return s.name
	}
	return s.fs.Join(dir, s.name)
}

// BackupPath returns the path holding the previous generation of dir's document.
func (s *Store) BackupPath(dir string) string {
	return s.DocumentPath(dir) + s.backupSuffix
}

// Exists reports whether dir holds a document or a usable backup.
func (s *Store) Exists(dir string) bool {
	return s.size(s.DocumentPath(dir)) >= 0 || s.size(s.BackupPath(dir)) > 0
}

// size returns -1 when the file is missing.
func (s *Store) size(path string) int64 {
	fi, err := s.fs.Stat(path)
	if err != nil || fi.IsDir() {
		return -1
	}
	return fi.Size()
}

// Read parses the document in dir. A missing or zero-length document falls
// back to the backup generation when one exists, which covers a crash between
// the two renames of Write.
func (s *Store) Read(dir string) (*Element, error) {
	path := s.DocumentPath(dir)
	data, err := util.ReadFile(s.fs, path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		backup := s.BackupPath(dir)
		bdata, berr := util.ReadFile(s.fs, backup)
		if berr == nil && len(bytes.TrimSpace(bdata)) > 0 {
			s.log.Warn("document missing or empty, using backup", "path", path, "backup", backup)
			path, data = backup, bdata
		} else if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		} else {
			return nil, fmt.Errorf("read %s: %w", path, ErrNoRoot)
		}
	}

	root, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}

// Write serializes root into dir's document. The new content is written to a
// temporary file first; a non-empty existing document then replaces the
// backup, and the temporary file is renamed into place. Any failure is
// returned and leaves the previous generation recoverable.
func (s *Store) Write(dir string, root *Element) (*Written, error) {
	if root == nil || root.Tag == "" {
		return nil, fmt.Errorf("%s: %w", s.DocumentPath(dir), ErrEmptyDocument)
	}
	data, err := Marshal(root)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s: %w", s.DocumentPath(dir), ErrEmptyDocument)
	}

	if dir != "" && dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	path := s.DocumentPath(dir)
	tmp := path + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, fmt.Errorf("write %s: %w", tmp, err)
	}

	switch size := s.size(path); {
	case size > 0:
		backup := s.BackupPath(dir)
		if err := s.fs.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = s.fs.Remove(tmp)
			return nil, fmt.Errorf("remove old backup %s: %w", backup, err)
		}
		if err := s.fs.Rename(path, backup); err != nil {
			_ = s.fs.Remove(tmp)
			return nil, fmt.Errorf("backup %s: %w", path, err)
		}
	case size == 0:
		s.log.Warn("existing document is empty, keeping previous backup", "path", path)
		if err := s.fs.Remove(path); err != nil {
			_ = s.fs.Remove(tmp)
			return nil, fmt.Errorf("remove empty %s: %w", path, err)
		}
	}

	if err := s.fs.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("replace %s: %w", path, err)
	}
	s.log.Debug("wrote document", "path", path, "bytes", len(data))

	return &Written{
		Path:      path,
		Checksum:  checksum.Bytes(data),
		Size:      int64(len(data)),
		WrittenAt: time.Now().UTC(),
	}, nil
}
