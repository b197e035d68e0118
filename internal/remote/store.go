// Package remote defines the contract the sync engine needs from the
// remote issue tracker.
package remote

import (
	"context"
	"io"
	"time"

	"github.com/starford/md2backlog/internal/models"
)

// Project is the remote collection documents live in.
type Project struct {
	ID                 string
	Key                string
	Name               string
	TextFormattingRule string
}

// Document is a remote document with its stored attachments.
type Document struct {
	ID          string // issue key, e.g. PROJ-7
	Title       string
	Body        string
	Updated     time.Time
	Attachments []models.RemoteAttachment
}

// Classification is one candidate value for a required field.
type Classification struct {
	ID   string
	Name string
}

// Classifications are the candidates for the fields a new document needs.
type Classifications struct {
	Priorities []Classification
	Types      []Classification
}

// CreateInput carries a new document.
type CreateInput struct {
	ProjectID     string
	Title         string
	Body          string
	PriorityID    string
	TypeID        string
	AttachmentIDs []string
}

// PatchInput carries an update to an existing document. AttachmentIDs are
// newly uploaded attachments to bind.
type PatchInput struct {
	ID            string
	Title         string
	Body          string
	AttachmentIDs []string
}

// Download is an attachment body. The caller closes Body.
type Download struct {
	Filename string
	Body     io.ReadCloser
}

// Store is the remote document store.
type Store interface {
	FindProject(ctx context.Context, key string) (*Project, error)
	ListDocuments(ctx context.Context, projectID string, offset, count int) ([]Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	CreateDocument(ctx context.Context, in CreateInput) (*Document, error)
	PatchDocument(ctx context.Context, in PatchInput) (*Document, error)
	UploadAttachment(ctx context.Context, filename string, r io.Reader) (string, error)
	DeleteAttachment(ctx context.Context, documentID, attachmentID string) error
	DownloadAttachment(ctx context.Context, documentID, attachmentID string) (*Download, error)
	ListClassifications(ctx context.Context, projectID string) (*Classifications, error)
}
