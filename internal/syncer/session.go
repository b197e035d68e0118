// Package syncer drives the put and fetch flows between the local document
// collection and the remote project.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/convert"
	"github.com/starford/md2backlog/internal/docindex"
	"github.com/starford/md2backlog/internal/journal"
	"github.com/starford/md2backlog/internal/remote"
	"github.com/starford/md2backlog/internal/storage"
)

// PostTypeIssue is the only collection type implemented.
const PostTypeIssue = "issue"

const markdownFormatting = "markdown"

// Settings describes the remote project and the local layout.
type Settings struct {
	Host       string
	ProjectKey string
	PostType   string

	// LocalDir holds the documents and AttachmentDir the downloaded
	// attachments, both relative to the workspace root.
	LocalDir      string
	AttachmentDir string

	// Preferred classification names for new documents. The first
	// candidate is used when no name matches. A configured id skips the
	// lookup.
	Priority    string
	IssueType   string
	PriorityID  string
	IssueTypeID string

	IndexFile  string
	IndexTitle string
}

// Session is the state of one run: the memoized project, the memoized
// classification defaults and the Document Index. It is safe for
// sequential use only; callers serialize operations.
type Session struct {
	cfg     Settings
	store   storage.Provider
	remote  remote.Store
	index   *docindex.Index
	conv    *convert.Converter
	journal journal.Recorder
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	project    *remote.Project
	priorityID string
	typeID     string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithJournal records every successful sync in j.
func WithJournal(j journal.Recorder) Option {
	return func(s *Session) { s.journal = j }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session over the workspace store and the remote store.
func New(cfg Settings, store storage.Provider, rs remote.Store, opts ...Option) *Session {
	if cfg.PostType == "" {
		cfg.PostType = PostTypeIssue
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.md"
	}
	if cfg.IndexTitle == "" {
		cfg.IndexTitle = "目次"
	}
	idx := docindex.New(store, cfg.LocalDir, cfg.AttachmentDir)
	s := &Session{
		cfg:    cfg,
		store:  store,
		remote: rs,
		index:  idx,
		conv:   convert.New(store, idx, cfg.Host, cfg.ProjectKey, cfg.LocalDir, cfg.AttachmentDir),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ViewURL is the browser URL of a document.
func (s *Session) ViewURL(id string) string {
	return "https://" + s.cfg.Host + "/view/" + id
}

func (s *Session) checkPostType() error {
	if s.cfg.PostType != PostTypeIssue {
		return &apperr.UnsupportedCollectionTypeError{Type: s.cfg.PostType}
	}
	return nil
}

// Project looks the configured project up once per session and checks
// that it stores Markdown.
func (s *Session) Project(ctx context.Context) (*remote.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project != nil {
		return s.project, nil
	}
	p, err := s.remote.FindProject(ctx, s.cfg.ProjectKey)
	if err != nil {
		return nil, fmt.Errorf("syncer: find project %s: %w", s.cfg.ProjectKey, err)
	}
	if p.TextFormattingRule != markdownFormatting {
		return nil, fmt.Errorf("syncer: project %s uses %q: %w", p.Key, p.TextFormattingRule, apperr.ErrUnsupportedFormatting)
	}
	s.project = p
	return p, nil
}

// defaults returns the priority and type ids used for new documents.
func (s *Session) defaults(ctx context.Context, p *remote.Project) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priorityID == "" {
		s.priorityID = s.cfg.PriorityID
	}
	if s.typeID == "" {
		s.typeID = s.cfg.IssueTypeID
	}
	if s.priorityID != "" && s.typeID != "" {
		return s.priorityID, s.typeID, nil
	}
	c, err := s.remote.ListClassifications(ctx, p.ID)
	if err != nil {
		return "", "", fmt.Errorf("syncer: list classifications: %w", err)
	}
	if s.priorityID == "" {
		if s.priorityID, err = pick(c.Priorities, s.cfg.Priority, "priority", p.Key); err != nil {
			return "", "", err
		}
	}
	if s.typeID == "" {
		if s.typeID, err = pick(c.Types, s.cfg.IssueType, "issue type", p.Key); err != nil {
			return "", "", err
		}
	}
	return s.priorityID, s.typeID, nil
}

func pick(candidates []remote.Classification, preferred, kind, collection string) (string, error) {
	if len(candidates) == 0 {
		return "", &apperr.MissingClassificationError{Kind: kind, Collection: collection}
	}
	for _, c := range candidates {
		if c.Name == preferred {
			return c.ID, nil
		}
	}
	return candidates[0].ID, nil
}
