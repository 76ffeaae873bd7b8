package api

// VersionTable describes the schema versions of the node tags a volume may
// contain. It is read from configuration once at startup.
type VersionTable struct {
	// Versions lists the latest and minimum compatible version per tag.
	Versions []TagVersion `json:"versions,omitempty"`
	// Deprecated tags are dropped from loaded documents when their parent is attached.
	Deprecated []string `json:"deprecated_tags,omitempty"`
}

// TagVersion is the version record of a single tag.
type TagVersion struct {
	// Tag is the element name, e.g. "Section".
	Tag string `json:"tag" hcl:"tag,label" toml:"tag"`
	// Latest is stamped onto newly constructed nodes.
	Latest float64 `json:"latest" hcl:"latest" toml:"latest"`
	// MinCompatible is the lowest recorded version still considered valid.
	// Zero disables the gate.
	MinCompatible float64 `json:"min_compatible,omitempty" hcl:"min_compatible,optional" toml:"min_compatible"`
}

// Lookup returns the record for tag.
func (t VersionTable) Lookup(tag string) (TagVersion, bool) {
	for _, v := range t.Versions {
		if v.Tag == tag {
			return v, true
		}
	}
	return TagVersion{}, false
}
