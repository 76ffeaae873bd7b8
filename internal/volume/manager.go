// Package volume is the metadata store of a reconstruction volume: a tree of
// typed nodes persisted as linked documents spread over the volume's
// directory hierarchy. Sub-documents are loaded lazily when a query reaches
// them, checked against the filesystem, and written back only when
// something in them changed.
package volume

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/agentic-research/voltree/internal/xmldoc"
)

// DocumentRecord describes one successful document write.
type DocumentRecord struct {
	Path      string
	Tag       string
	Checksum  string
	Size      int64
	WrittenAt time.Time
	Session   string
}

// DocumentRecorder is notified of every document the manager writes.
// Recording errors are logged and never fail a save.
type DocumentRecorder interface {
	RecordDocument(rec DocumentRecord) error
}

// Manager loads and saves volumes on a filesystem.
type Manager struct {
	fs       billy.Filesystem
	store    *xmldoc.Store
	log      *slog.Logger
	workers  int
	recorder DocumentRecorder
	session  string

	docName      string
	backupSuffix string
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithWorkers bounds the concurrency of link resolution. Values below one
// select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// WithDocumentName overrides the per-directory document name and the suffix
// of its backup.
func WithDocumentName(name, backupSuffix string) Option {
	return func(m *Manager) {
		m.docName = name
		m.backupSuffix = backupSuffix
	}
}

func WithRecorder(r DocumentRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager returns a manager storing volumes on fsys.
func NewManager(fsys billy.Filesystem, opts ...Option) *Manager {
	m := &Manager{
		fs:      fsys,
		log:     slog.Default(),
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers < 1 {
		m.workers = runtime.GOMAXPROCS(0)
	}
	m.store = xmldoc.NewStore(fsys, m.docName, m.backupSuffix, m.log)
	return m
}

func (m *Manager) Filesystem() billy.Filesystem { return m.fs }

// Session identifies this manager's writes in the catalog.
func (m *Manager) Session() string { return m.session }

// DocumentPath returns the document path of directory dir.
func (m *Manager) DocumentPath(dir string) string { return m.store.DocumentPath(dir) }

// BackupPath returns the backup path of directory dir's document.
func (m *Manager) BackupPath(dir string) string { return m.store.BackupPath(dir) }

// Load opens the volume stored in directory path. Without a document there,
// Load returns (nil, nil) unless create is set, in which case a new volume
// is created and saved. The root's Path is always set to path, so a volume
// that was moved on disk is rewritten with its new location.
func (m *Manager) Load(path string, create bool) (*VolumeNode, error) {
	var (
		root  *VolumeNode
		fresh bool
	)
	if !m.store.Exists(path) {
		if !create {
			return nil, nil
		}
		root = NewVolume(path)
		fresh = true
	} else {
		x, err := m.store.Read(path)
		if err != nil {
			return nil, fmt.Errorf("load volume %s: %w", path, err)
		}
		_, e := m.Wrap(fromDocument(x))
		v, ok := e.(*VolumeNode)
		if !ok {
			return nil, fmt.Errorf("load volume %s: root element is %s", path, x.Tag)
		}
		root = v
	}

	root.mgr = m
	root.SetAttr(AttrPath, path)
	m.attach(root, nil)

	if fresh {
		if err := m.Save(root); err != nil {
			return nil, fmt.Errorf("create volume %s: %w", path, err)
		}
		m.log.Info("created volume", "path", path)
	}
	return root, nil
}

// Walk visits e and its descendants depth first, resolving placeholders on
// the way. Returning an error from fn stops the walk.
func (m *Manager) Walk(e Element, fn func(Element) error) error {
	if err := fn(e); err != nil {
		return err
	}
	for _, c := range e.Base().Children() {
		if err := m.Walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// ResolveAll loads every sub-document below e.
func (m *Manager) ResolveAll(e Element) error {
	return m.Walk(e, func(Element) error { return nil })
}
