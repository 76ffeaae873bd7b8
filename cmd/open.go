package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/agentic-research/voltree/internal/catalog"
	"github.com/agentic-research/voltree/internal/volume"
)

// countingRecorder counts document writes and forwards them to the catalog
// when one is configured.
type countingRecorder struct {
	mu   sync.Mutex
	n    int
	next volume.DocumentRecorder
}

func (r *countingRecorder) RecordDocument(rec volume.DocumentRecord) error {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	if r.next != nil {
		return r.next.RecordDocument(rec)
	}
	return nil
}

func (r *countingRecorder) written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type session struct {
	mgr     *volume.Manager
	vol     *volume.VolumeNode
	writes  *countingRecorder
	catalog *catalog.Catalog
}

func (s *session) Close() error {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Close()
}

// openVolume loads the volume in directory path. The filesystem is rooted
// at the volume's parent so document paths are recorded relative to it.
func openVolume(path string, create bool) (*session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	s := &session{writes: &countingRecorder{}}
	if cfg.Catalog != nil && cfg.Catalog.Path != "" {
		c, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		s.catalog = c
		s.writes.next = c
	}

	opts := append(cfg.ManagerOptions(), volume.WithLogger(slog.Default()), volume.WithRecorder(s.writes))
	s.mgr = volume.NewManager(osfs.New(filepath.Dir(abs)), opts...)
	s.vol, err = s.mgr.Load(filepath.Base(abs), create)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.vol == nil {
		_ = s.Close()
		return nil, fmt.Errorf("no volume at %s (run voltree init)", abs)
	}
	return s, nil
}

// targets returns the volume itself, or every match of query under it.
func (s *session) targets(query string) ([]volume.Element, error) {
	if query == "" {
		return []volume.Element{s.vol}, nil
	}
	found, err := s.vol.FindAll(query)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s: %w", query, volume.ErrNotFound)
	}
	return found, nil
}

func fullPath(e volume.Element) string {
	if r, ok := e.(volume.Resource); ok {
		return r.FullPath()
	}
	return ""
}
