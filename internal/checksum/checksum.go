// Package checksum fingerprints document files. The journal stores the
// fingerprint of every file a sync wrote so later edits can be told apart
// from the tool's own writes.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Opener opens workspace files for reading. storage.Provider satisfies it.
type Opener interface {
	Open(path string) (io.ReadCloser, error)
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Reader returns the digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the digest of the file at path.
func File(o Opener, path string) (string, error) {
	rc, err := o.Open(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return Reader(rc)
}
