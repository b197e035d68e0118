package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/header"
	"github.com/starford/md2backlog/internal/markdown"
	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/remote"
	"github.com/starford/md2backlog/internal/storage"
)

// PageSize is the number of documents requested per listing call.
const PageSize = 20

// IndexID is the docId of the generated index document.
const IndexID = "index"

// FetchOptions control a fetch-all.
type FetchOptions struct {
	CreateIndex bool
}

// FetchResult lists the documents written by a fetch.
type FetchResult struct {
	Documents []models.Document `json:"documents"`
	IndexPath string            `json:"index_path,omitempty"`
}

// FetchAll writes every remote document of the project to the local
// collection, page by page. Documents written before a failing page stay on
// disk.
func (s *Session) FetchAll(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	if err := s.checkPostType(); err != nil {
		return nil, err
	}
	project, err := s.Project(ctx)
	if err != nil {
		return nil, err
	}

	res := &FetchResult{}
	for offset := 0; ; offset += PageSize {
		page, err := s.remote.ListDocuments(ctx, project.ID, offset, PageSize)
		if err != nil {
			return res, fmt.Errorf("syncer: list documents at %d: %w", offset, err)
		}
		for _, d := range page {
			doc, err := s.writeRemote(ctx, d)
			if err != nil {
				return res, err
			}
			res.Documents = append(res.Documents, *doc)
		}
		if len(page) < PageSize {
			break
		}
	}

	if opts.CreateIndex {
		p, err := s.writeIndex(res.Documents)
		if err != nil {
			return res, err
		}
		res.IndexPath = p
	}
	s.logger.Info("fetch complete", slog.Int("documents", len(res.Documents)))
	return res, nil
}

// FetchOne writes a single remote document. ref is the document key, its
// view path or its full URL.
func (s *Session) FetchOne(ctx context.Context, ref string) (*models.Document, error) {
	if err := s.checkPostType(); err != nil {
		return nil, err
	}
	id, ok := s.conv.MatchReference(strings.TrimSpace(ref))
	if !ok {
		return nil, fmt.Errorf("syncer: %q is not a document of %s: %w", ref, s.cfg.ProjectKey, apperr.ErrInvalidReference)
	}
	d, err := s.remote.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("syncer: get %s: %w", id, err)
	}
	return s.writeRemote(ctx, *d)
}

// writeRemote downloads the attachments of d, converts its body and writes
// the local file resolved through the Document Index.
func (s *Session) writeRemote(ctx context.Context, d remote.Document) (*models.Document, error) {
	target, err := s.index.Resolve(d.ID, d.Title, s.cfg.LocalDir)
	if err != nil {
		return nil, err
	}

	stored := make([]models.RemoteAttachment, 0, len(d.Attachments))
	for _, a := range d.Attachments {
		name, err := s.download(ctx, d.ID, a)
		if err != nil {
			return nil, err
		}
		a.Name = name
		stored = append(stored, a)
	}

	body, err := s.conv.ToLocal(d.Body, stored, target)
	if err != nil {
		return nil, fmt.Errorf("syncer: convert %s: %w", d.ID, err)
	}
	body = markdown.Format(body)

	h := header.New()
	if storage.Exists(s.store, target) {
		existing, err := header.Load(s.store, target)
		if err != nil {
			return nil, err
		}
		h = existing.Header
	}
	doc := models.Document{
		ID:         d.ID,
		Title:      d.Title,
		URL:        s.ViewURL(d.ID),
		UpdatedAt:  d.Updated,
		SourcePath: target,
	}
	h.Merge(doc)
	raw, err := header.Encode(h, body)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(target, raw); err != nil {
		return nil, fmt.Errorf("syncer: write %s: %w", target, err)
	}
	if err := s.record(doc, raw, models.DirectionFetch); err != nil {
		return nil, err
	}
	s.logger.Debug("document fetched", slog.String("id", d.ID), slog.String("path", target))
	doc.Body = body
	return &doc, nil
}

// download stores one attachment in the attachment directory and returns
// the file name it was stored under.
func (s *Session) download(ctx context.Context, docID string, a models.RemoteAttachment) (string, error) {
	dl, err := s.remote.DownloadAttachment(ctx, docID, a.ID)
	if err != nil {
		return "", fmt.Errorf("syncer: download %s of %s: %w", a.Name, docID, err)
	}
	defer dl.Body.Close()

	name := safeName(dl.Filename)
	if name == "" {
		name = safeName(a.Name)
	}
	if name == "" {
		name = a.ID
	}
	if _, err := s.store.WriteFrom(path.Join(s.cfg.AttachmentDir, name), dl.Body); err != nil {
		return "", fmt.Errorf("syncer: store attachment %s: %w", name, err)
	}
	return name, nil
}

// safeName strips any directory part from a remote file name.
func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

// writeIndex writes the index document listing docs sorted by title,
// ignoring case.
func (s *Session) writeIndex(docs []models.Document) (string, error) {
	indexPath := path.Join(s.cfg.LocalDir, s.cfg.IndexFile)
	sorted := append([]models.Document(nil), docs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToUpper(sorted[i].Title) < strings.ToUpper(sorted[j].Title)
	})

	items := make([]*markdown.ListItem, 0, len(sorted))
	for _, d := range sorted {
		rel, err := relativeTo(path.Dir(indexPath), d.SourcePath)
		if err != nil {
			return "", err
		}
		items = append(items, &markdown.ListItem{Children: []markdown.Block{
			&markdown.Paragraph{Children: []markdown.Inline{
				&markdown.Link{URL: rel, Children: []markdown.Inline{&markdown.Text{Value: d.ID + " " + d.Title}}},
			}},
		}})
	}
	root := &markdown.Root{}
	if len(items) > 0 {
		root.Children = []markdown.Block{&markdown.List{Tight: true, Items: items}}
	}

	h := header.New()
	h.Merge(models.Document{ID: IndexID, Title: s.cfg.IndexTitle, UpdatedAt: s.now()})
	raw, err := header.Encode(h, markdown.Stringify(root))
	if err != nil {
		return "", err
	}
	if err := s.store.Write(indexPath, raw); err != nil {
		return "", fmt.Errorf("syncer: write index: %w", err)
	}
	return indexPath, nil
}

// relativeTo returns target relative to dir, both slash-separated and
// workspace-relative.
func relativeTo(dir, target string) (string, error) {
	dirParts := splitPath(dir)
	targetParts := splitPath(target)
	i := 0
	for i < len(dirParts) && i < len(targetParts) && dirParts[i] == targetParts[i] {
		i++
	}
	var parts []string
	for range dirParts[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, targetParts[i:]...)
	if len(parts) == 0 {
		return "", fmt.Errorf("syncer: %s is the directory %s", target, dir)
	}
	return strings.Join(parts, "/"), nil
}

func splitPath(p string) []string {
	p = path.Clean(p)
	if p == "." || p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
