// Package storage defines the workspace file-system abstraction.
package storage

import (
	"io"
	"io/fs"
	"time"
)

// FileMeta describes one Markdown file found by List.
type FileMeta struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Provider is the interface for workspace file operations.
// All paths are relative to the workspace root.
type Provider interface {
	// List returns metadata for every .md file under dir, in lexical order.
	List(dir string) ([]FileMeta, error)
	// Stat returns file information for path.
	Stat(path string) (fs.FileInfo, error)
	// Open opens path for streaming reads.
	Open(path string) (io.ReadCloser, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteFrom atomically writes everything read from r to path.
	WriteFrom(path string, r io.Reader) (int64, error)
	// Root returns the absolute workspace root.
	Root() string
}
