package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/checksum"
	"github.com/starford/md2backlog/internal/header"
	"github.com/starford/md2backlog/internal/markdown"
	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/reconcile"
	"github.com/starford/md2backlog/internal/remote"
)

// PutStatus is the outcome of a put.
type PutStatus string

const (
	StatusCreated   PutStatus = "created"
	StatusUpdated   PutStatus = "updated"
	StatusUnchanged PutStatus = "unchanged"
	StatusDryRun    PutStatus = "dry-run"
)

// PutOptions control a put.
type PutOptions struct {
	// DryRun stops after the attachment plan: nothing is written on either
	// side.
	DryRun bool
}

// PutResult reports what a put did or, in a dry run, would do.
type PutResult struct {
	Status   PutStatus       `json:"status"`
	Document models.Document `json:"document"`
	Content  string          `json:"content"`
	Plan     reconcile.Plan  `json:"plan"`
	// Diff is the line diff from the current remote body, dry run only.
	Diff string `json:"diff,omitempty"`
}

// Put sends the local document at path to the remote project. A document
// without an id is created; one with an id is patched unless its body,
// title and attachments already match, in which case nothing is written.
func (s *Session) Put(ctx context.Context, path string, opts PutOptions) (*PutResult, error) {
	if err := s.checkPostType(); err != nil {
		return nil, err
	}
	parsed, err := header.Load(s.store, path)
	if err != nil {
		return nil, err
	}
	doc := parsed.Document(path)
	if doc.ID == IndexID {
		return nil, fmt.Errorf("syncer: %s is the generated index: %w", path, apperr.ErrInvalidReference)
	}

	conv, err := s.conv.ToRemote(path, parsed.Body, parsed.Lines)
	if err != nil {
		return nil, err
	}
	project, err := s.Project(ctx)
	if err != nil {
		return nil, err
	}

	var current *remote.Document
	if !doc.IsNew() {
		current, err = s.remote.GetDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("syncer: get %s: %w", doc.ID, err)
		}
	}
	var stored []models.RemoteAttachment
	if current != nil {
		stored = current.Attachments
	}
	plan := reconcile.Compute(conv.Attachments, stored)
	res := &PutResult{Document: doc, Content: conv.Content, Plan: plan}

	if current != nil && current.Title == doc.Title && sameBody(current.Body, conv.Content) && plan.Unchanged() {
		s.logger.Info("no difference, not updated", slog.String("path", path), slog.String("id", doc.ID))
		res.Status = StatusUnchanged
		return res, nil
	}

	if opts.DryRun {
		before := ""
		if current != nil {
			before = current.Body
		}
		res.Status = StatusDryRun
		res.Diff = lineDiff(before, conv.Content)
		return res, nil
	}

	// A new document needs its classification before anything is uploaded.
	var priority, typ string
	if current == nil {
		if priority, typ, err = s.defaults(ctx, project); err != nil {
			return nil, err
		}
	}

	if current != nil {
		for _, a := range plan.Delete {
			if err := s.remote.DeleteAttachment(ctx, current.ID, a.ID); err != nil {
				return nil, fmt.Errorf("syncer: delete attachment %s of %s: %w", a.Name, current.ID, err)
			}
		}
	}
	uploaded := make([]string, 0, len(plan.Upload))
	for _, a := range plan.Upload {
		id, err := s.upload(ctx, a)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, id)
	}

	var written *remote.Document
	if current == nil {
		written, err = s.remote.CreateDocument(ctx, remote.CreateInput{
			ProjectID:     project.ID,
			Title:         doc.Title,
			Body:          conv.Content,
			PriorityID:    priority,
			TypeID:        typ,
			AttachmentIDs: uploaded,
		})
		if err != nil {
			return nil, fmt.Errorf("syncer: create %s: %w", path, err)
		}
		res.Status = StatusCreated
	} else {
		written, err = s.remote.PatchDocument(ctx, remote.PatchInput{
			ID:            current.ID,
			Title:         doc.Title,
			Body:          conv.Content,
			AttachmentIDs: uploaded,
		})
		if err != nil {
			return nil, fmt.Errorf("syncer: patch %s: %w", current.ID, err)
		}
		res.Status = StatusUpdated
	}

	authoritative := models.Document{
		ID:         written.ID,
		Title:      written.Title,
		URL:        s.ViewURL(written.ID),
		UpdatedAt:  written.Updated,
		SourcePath: path,
	}
	parsed.Header.Merge(authoritative)
	body := markdown.Format(parsed.Body)
	raw, err := header.Encode(parsed.Header, body)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(path, raw); err != nil {
		return nil, fmt.Errorf("syncer: write %s: %w", path, err)
	}
	if err := s.record(authoritative, raw, models.DirectionPut); err != nil {
		return nil, err
	}

	authoritative.Body = body
	res.Document = authoritative
	s.logger.Info("document put",
		slog.String("path", path),
		slog.String("id", written.ID),
		slog.String("status", string(res.Status)),
		slog.Int("uploaded", len(plan.Upload)),
		slog.Int("deleted", len(plan.Delete)),
	)
	return res, nil
}

func (s *Session) upload(ctx context.Context, a models.Attachment) (string, error) {
	rc, err := s.store.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("syncer: open attachment %s: %w", a.Path, err)
	}
	defer rc.Close()
	id, err := s.remote.UploadAttachment(ctx, a.Name(), rc)
	if err != nil {
		return "", fmt.Errorf("syncer: upload %s: %w", a.Path, err)
	}
	return id, nil
}

func (s *Session) record(d models.Document, raw []byte, direction string) error {
	if s.journal == nil {
		return nil
	}
	err := s.journal.Record(models.SyncRecord{
		DocID:         d.ID,
		Path:          d.SourcePath,
		Title:         d.Title,
		Checksum:      checksum.Sum(raw),
		RemoteUpdated: d.UpdatedAt,
		Direction:     direction,
	})
	if err != nil {
		return fmt.Errorf("syncer: record %s: %w", d.ID, err)
	}
	return nil
}
