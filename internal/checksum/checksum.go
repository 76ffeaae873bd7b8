// Package checksum computes the BLAKE3 digests used to detect changes to
// files referenced by a volume and to documents written by the store.
package checksum

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/zeebo/blake3"
)

// Bytes returns the hex-encoded BLAKE3-256 digest of data.
func Bytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader streams r through the hasher.
func Reader(r io.Reader) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the digest of the file at path on fsys.
func File(fsys billy.Filesystem, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return sum, nil
}
