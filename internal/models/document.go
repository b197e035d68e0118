// Package models defines the domain types shared by the sync packages.
package models

import (
	"path"
	"time"
)

// Document is one synchronizable unit: a local Markdown file and, once
// created remotely, the issue it mirrors.
type Document struct {
	ID         string    `json:"id,omitempty"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	SourcePath string    `json:"source_path"`
	Body       string    `json:"body"`
}

// IsNew reports whether the document has not been created remotely yet.
func (d *Document) IsNew() bool { return d.ID == "" }

// Attachment is a pending local file bound to a Markdown definition,
// produced while converting a document to the remote dialect.
type Attachment struct {
	Identifier string `json:"identifier"`
	Label      string `json:"label"`
	URL        string `json:"url"`
	// Path is the resolved file location relative to the workspace root.
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Name is the file name the remote side stores the attachment under.
func (a Attachment) Name() string { return path.Base(a.URL) }

// RemoteAttachment is an attachment already stored on a remote document.
type RemoteAttachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Direction of a recorded sync.
const (
	DirectionPut   = "put"
	DirectionFetch = "fetch"
)

// SyncRecord is the journal entry written after a successful put or fetch.
type SyncRecord struct {
	DocID         string    `json:"doc_id"`
	Path          string    `json:"path"`
	Title         string    `json:"title"`
	Checksum      string    `json:"checksum"`
	RemoteUpdated time.Time `json:"remote_updated"`
	Direction     string    `json:"direction"`
	SyncedAt      time.Time `json:"synced_at"`
}
