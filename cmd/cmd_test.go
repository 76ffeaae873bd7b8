package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/voltree/internal/volume"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, verbose = "", false
	cleanInvalid, selectPath = false, ""
	catalogLimit, catalogHistory, catalogVerify = 50, "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// seedVolume writes vol/ with one block, two sections and an image whose
// level directory exists but whose file was never written.
func seedVolume(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	vol, err := volume.NewManager(osfs.New(dir)).Load("vol", true)
	require.NoError(t, err)
	_, blk, err := vol.GetOrCreateBlock("TEM")
	require.NoError(t, err)
	var levelDir string
	for _, n := range []int{1, 2} {
		_, sec, err := blk.GetOrCreateSection(n)
		require.NoError(t, err)
		_, ch, err := sec.GetOrCreateChannel("TEM")
		require.NoError(t, err)
		if n == 1 {
			_, f, err := ch.GetOrCreateFilter("Raw8")
			require.NoError(t, err)
			_, set, err := f.GetOrCreateImageSet()
			require.NoError(t, err)
			_, img, err := set.GetOrCreateImage(1, "0001.png")
			require.NoError(t, err)
			levelDir = filepath.Dir(img.FullPath())
		}
	}
	require.NoError(t, vol.Save())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, levelDir), 0o755))
	return filepath.Join(dir, "vol")
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol")
	out, err := run(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created volume vol")
	_, err = os.Stat(filepath.Join(path, "VolumeData.xml"))
	require.NoError(t, err)

	out, err = run(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Opened volume vol")
}

func TestQueryAndInspect(t *testing.T) {
	path := seedVolume(t)

	out, err := run(t, "query", path, "Block/Section")
	require.NoError(t, err)
	assert.Contains(t, out, "vol/TEM/0001\tSection")
	assert.Contains(t, out, "vol/TEM/0002\tSection")

	_, err = run(t, "query", path, "Block[@Name='SEM']")
	assert.ErrorIs(t, err, volume.ErrNotFound)

	out, err = run(t, "inspect", path, "Block")
	require.NoError(t, err)
	assert.Contains(t, out, "document:  vol/TEM/VolumeData.xml")
	assert.Contains(t, out, "@Name = TEM")
	assert.Contains(t, out, "children:  Section x2")

	_, err = run(t, "inspect", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "no volume")
}

func TestValidateClean(t *testing.T) {
	path := seedVolume(t)

	out, err := run(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, volume.ReasonMissingFile)
	assert.Contains(t, out, "1 invalid")

	out, err = run(t, "validate", "--clean", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 invalid")

	vol, err := volume.NewManager(osfs.New(filepath.Dir(path))).Load("vol", false)
	require.NoError(t, err)
	_, err = vol.FindFirst("Block/Section/Channel/Filter/ImageSet/Image")
	assert.ErrorIs(t, err, volume.ErrNotFound)

	out, err = run(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0 invalid")
}

func TestSave_NothingChanged(t *testing.T) {
	path := seedVolume(t)
	out, err := run(t, "save", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0 documents written")
}

func TestExport(t *testing.T) {
	path := seedVolume(t)
	out, err := run(t, "export", path, "--select", "$.children[*].attributes.Name")
	require.NoError(t, err)
	assert.Contains(t, out, `"TEM"`)

	out, err = run(t, "export", path, "Block/Section")
	require.NoError(t, err)
	assert.Contains(t, out, `"0002"`)
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "voltree.hcl")
	require.NoError(t, os.WriteFile(conf, []byte("catalog {\n  path = \"catalog.db\"\n}\n"), 0o644))
	path := filepath.Join(dir, "data", "vol")

	_, err := run(t, "--config", conf, "init", path)
	require.NoError(t, err)

	out, err := run(t, "--config", conf, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "Volume")
	assert.Contains(t, out, "vol/VolumeData.xml")

	out, err = run(t, "--config", conf, "catalog", "--verify", filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Contains(t, out, "all documents match")

	require.NoError(t, os.WriteFile(filepath.Join(path, "VolumeData.xml"), []byte("<Volume/>"), 0o644))
	out, err = run(t, "catalog", filepath.Join(dir, "catalog.db"), "--verify", filepath.Join(dir, "data"))
	assert.Error(t, err)
	assert.Contains(t, out, fmt.Sprintf("modified\t%s", "vol/VolumeData.xml"))
}
