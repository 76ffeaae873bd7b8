package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/voltree/api"
	"github.com/agentic-research/voltree/internal/volume"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "VolumeData.xml", c.DocumentName)
	assert.Equal(t, ".backup.xml", c.BackupSuffix)
	assert.Equal(t, "_Link", c.LinkSuffix)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, []string{"Stos"}, c.DeprecatedTags)
	assert.Nil(t, c.Catalog)
}

func TestLoad_HCL(t *testing.T) {
	path := writeConfig(t, "voltree.hcl", `
document_name    = "Meta.xml"
max_load_workers = 4
deprecated_tags  = ["Stos", "Legacy"]

log {
  level  = "debug"
  format = "json"
  file   = "logs/voltree.log"
}

catalog {
  path = "catalog.db"
}

version "Section" {
  latest         = 2
  min_compatible = 1.5
}

version "Block" {
  latest = 3
}
`)
	c, err := Load(path)
	require.NoError(t, err)
	dir := filepath.Dir(path)

	assert.Equal(t, "Meta.xml", c.DocumentName)
	assert.Equal(t, ".backup.xml", c.BackupSuffix)
	assert.Equal(t, 4, c.MaxLoadWorkers)
	assert.Equal(t, []string{"Stos", "Legacy"}, c.DeprecatedTags)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, filepath.Join(dir, "logs/voltree.log"), c.Log.File)
	assert.Equal(t, 100, c.Log.MaxSizeMB)
	require.NotNil(t, c.Catalog)
	assert.Equal(t, filepath.Join(dir, "catalog.db"), c.Catalog.Path)

	reg := c.Registry()
	assert.Equal(t, 2.0, reg.Latest("Section"))
	assert.Equal(t, 1.5, reg.MinCompatible("Section"))
	assert.Equal(t, 3.0, reg.Latest("Block"))
	assert.Equal(t, 1.0, reg.Latest("Channel"))
	assert.True(t, reg.Deprecated("Legacy"))
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "voltree.toml", `
link_suffix = "_Ref"

[log]
level = "warn"

[catalog]
path = "/var/lib/voltree/catalog.db"

[[version]]
tag = "Filter"
latest = 1.2
min_compatible = 1.1
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "_Ref", c.LinkSuffix)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "/var/lib/voltree/catalog.db", c.Catalog.Path)
	v, ok := c.VersionTable().Lookup("Filter")
	require.True(t, ok)
	assert.Equal(t, 1.2, v.Latest)
	assert.Equal(t, 1.1, v.MinCompatible)
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "voltree.json", `{
  "max_load_workers": 2,
  "version": {"Level": {"latest": 1.5}}
}`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.MaxLoadWorkers)
	assert.Equal(t, 1.5, c.Registry().Latest("Level"))
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad.yaml":      "a: 1",
		"syntax.hcl":    "document_name = ",
		"negative.hcl":  "max_load_workers = -1",
		"path.hcl":      `document_name = "a/b.xml"`,
		"duplicate.hcl": "version \"A\" {\n latest = 1\n}\nversion \"A\" {\n latest = 2\n}\n",
		"inverted.toml": "[[version]]\ntag = \"A\"\nlatest = 1.0\nmin_compatible = 2.0\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, name, body))
			assert.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	c := Default()
	c.LinkSuffix = "_Ref"
	c.Versions = append(c.Versions, tagVersion("Section", 4))
	c.Apply()
	t.Cleanup(func() {
		volume.LinkSuffix = "_Link"
		volume.SetVersions(nil)
	})

	assert.Equal(t, "_Ref", volume.LinkSuffix)
	assert.Equal(t, 4.0, volume.Versions().Latest("Section"))
	assert.Equal(t, 4.0, volume.NewSection(1).Version())
	assert.Len(t, c.ManagerOptions(), 2)
	assert.Equal(t, "info", c.LoggingOptions().Level)
}

func tagVersion(tag string, latest float64) api.TagVersion {
	return api.TagVersion{Tag: tag, Latest: latest}
}
