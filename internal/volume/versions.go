package volume

import (
	"sync/atomic"

	"github.com/agentic-research/voltree/api"
)

// DefaultVersions is the version table used until SetVersions is called.
var DefaultVersions = api.VersionTable{
	Deprecated: []string{"Stos"},
}

// VersionRegistry answers schema version questions per tag. It is built once
// at startup and read concurrently afterwards.
type VersionRegistry struct {
	latest     map[string]float64
	minCompat  map[string]float64
	deprecated map[string]bool
}

func NewVersionRegistry(t api.VersionTable) *VersionRegistry {
	r := &VersionRegistry{
		latest:     make(map[string]float64, len(t.Versions)),
		minCompat:  make(map[string]float64, len(t.Versions)),
		deprecated: make(map[string]bool, len(t.Deprecated)),
	}
	for _, v := range t.Versions {
		if v.Latest > 0 {
			r.latest[v.Tag] = v.Latest
		}
		r.minCompat[v.Tag] = v.MinCompatible
	}
	for _, tag := range t.Deprecated {
		r.deprecated[tag] = true
	}
	return r
}

// Latest is the version stamped on newly constructed nodes of tag.
func (r *VersionRegistry) Latest(tag string) float64 {
	if v, ok := r.latest[tag]; ok {
		return v
	}
	return 1.0
}

// MinCompatible is the lowest version of tag still considered valid, or 0.
func (r *VersionRegistry) MinCompatible(tag string) float64 {
	return r.minCompat[tag]
}

// Deprecated reports whether tag is dropped from loaded documents.
func (r *VersionRegistry) Deprecated(tag string) bool {
	return r.deprecated[tag]
}

var versions atomic.Pointer[VersionRegistry]

func init() {
	versions.Store(NewVersionRegistry(DefaultVersions))
}

// SetVersions replaces the process-wide registry. Call it during startup,
// before any volume is loaded.
func SetVersions(r *VersionRegistry) {
	if r == nil {
		r = NewVersionRegistry(DefaultVersions)
	}
	versions.Store(r)
}

func Versions() *VersionRegistry { return versions.Load() }
