// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/starford/md2backlog/internal/journal"
	"github.com/starford/md2backlog/internal/mcpserver"
	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/remote/backlog"
	"github.com/starford/md2backlog/internal/storage"
	"github.com/starford/md2backlog/internal/syncer"
	"github.com/starford/md2backlog/internal/watch"
)

// App holds everything one command needs: the workspace, the Backlog client
// and the optional journal.
type App struct {
	cfg     *Config
	logger  *slog.Logger
	store   *storage.FS
	client  *backlog.Client
	journal *journal.Journal
	version string
}

// New builds the application from the given options.
func New(opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg.App, app.logOutput)
	}
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("host", cfg.Backlog.Host),
		slog.String("project_key", cfg.Backlog.ProjectKey),
		slog.String("post_type", cfg.Backlog.PostType),
		slog.String("local_dir", cfg.Local.Dir),
		slog.String("attachment_dir", cfg.Local.AttachmentDir),
		slog.String("journal_path", cfg.Journal.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Local.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	httpClient := app.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Backlog.Timeout}
	}
	clientOpts := []backlog.Option{
		backlog.WithHTTPClient(httpClient),
		backlog.WithLogger(logger),
	}
	if cfg.Backlog.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, backlog.WithRateLimit(cfg.Backlog.RequestsPerSecond, cfg.Backlog.Burst))
	}
	if app.baseURL != "" {
		clientOpts = append(clientOpts, backlog.WithBaseURL(app.baseURL))
	}
	client := backlog.New(cfg.Backlog.Host, backlog.Credentials{
		APIKey:      cfg.Backlog.APIKey,
		AccessToken: cfg.Backlog.AccessToken,
	}, clientOpts...)

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		client:  client,
		version: app.version,
	}

	if cfg.Journal.Path != "" {
		p := cfg.Journal.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(store.Root(), p)
		}
		j, err := journal.Open(p)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		a.journal = j
	}

	return a, nil
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Close releases the journal.
func (a *App) Close() error {
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}

// Session returns a fresh sync session. Every operation gets its own so the
// Document Index reflects the files at the time it runs.
func (a *App) Session() *syncer.Session {
	opts := []syncer.Option{syncer.WithLogger(a.logger)}
	if a.journal != nil {
		opts = append(opts, syncer.WithJournal(a.journal))
	}
	return syncer.New(a.cfg.Settings(), a.store, a.client, opts...)
}

// Put sends each file to the remote project in order, within one session,
// and stops at the first failure.
func (a *App) Put(ctx context.Context, paths []string, dryRun bool) ([]*syncer.PutResult, error) {
	s := a.Session()
	results := make([]*syncer.PutResult, 0, len(paths))
	for _, p := range paths {
		rel, err := a.relative(p)
		if err != nil {
			return results, err
		}
		r, err := s.Put(ctx, rel, syncer.PutOptions{DryRun: dryRun})
		if err != nil {
			return results, fmt.Errorf("put %s: %w", rel, err)
		}
		a.logger.Info("put",
			slog.String("path", rel),
			slog.String("status", string(r.Status)),
			slog.String("docId", r.Document.ID))
		results = append(results, r)
	}
	return results, nil
}

// FetchAll writes every remote document of the project to the local
// collection. createIndex is combined with local.create_index.
func (a *App) FetchAll(ctx context.Context, createIndex bool) (*syncer.FetchResult, error) {
	res, err := a.Session().FetchAll(ctx, syncer.FetchOptions{CreateIndex: createIndex || a.cfg.Local.CreateIndex})
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	a.logger.Info("fetched", slog.Int("documents", len(res.Documents)), slog.String("index", res.IndexPath))
	return res, nil
}

// FetchOne writes the single document ref names.
func (a *App) FetchOne(ctx context.Context, ref string) (*models.Document, error) {
	d, err := a.Session().FetchOne(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	a.logger.Info("fetched", slog.String("docId", d.ID), slog.String("path", d.SourcePath))
	return d, nil
}

// Status reports the sync state of every local document.
func (a *App) Status() ([]syncer.DocumentStatus, error) {
	return a.Session().Status()
}

// Watch runs the watcher until ctx is cancelled or a shutdown signal arrives.
func (a *App) Watch(ctx context.Context) error {
	runner := watch.New(a.store, watch.Layout{
		LocalDir:      a.cfg.Local.Dir,
		AttachmentDir: a.cfg.Local.AttachmentDir,
		IndexFile:     a.cfg.Local.IndexFile,
	}, func() watch.Syncer { return a.Session() },
		watch.WithDebounce(a.cfg.Watch.Debounce),
		watch.WithPullSchedule(a.cfg.Watch.PullSchedule, a.cfg.Local.CreateIndex),
		watch.WithLogger(a.logger),
		watch.WithCallback(func(kind, path string) {
			a.logger.Debug("watch event", slog.String("kind", kind), slog.String("path", path))
		}),
	)
	return a.runUntilSignal(ctx, "watcher", runner.Run)
}

// ServeMCP serves the MCP tools on stdin/stdout.
func (a *App) ServeMCP(ctx context.Context) error {
	srv := mcpserver.New(a.store, func() mcpserver.Syncer { return a.Session() }, a.version)
	return a.runUntilSignal(ctx, "mcp server", func(ctx context.Context) error {
		return srv.Serve(ctx, os.Stdin, os.Stdout)
	})
}

func (a *App) runUntilSignal(ctx context.Context, name string, run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			a.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	a.logger.Info("Stopped", slog.String("component", name))
	return nil
}

// relative turns a command line path into a workspace-relative slash path.
func (a *App) relative(p string) (string, error) {
	if !filepath.IsAbs(p) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		p = filepath.Join(wd, p)
	}
	rel, err := filepath.Rel(a.store.Root(), p)
	if err != nil {
		return "", fmt.Errorf("path %s: %w", p, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace %s", p, a.store.Root())
	}
	return filepath.ToSlash(rel), nil
}

// EnvTemplate is the .env written by init. Keys use the lower-case
// backlog_* spelling that ApplyEnv also accepts.
func EnvTemplate() map[string]string {
	return map[string]string{
		"backlog_host":           PlaceholderHost,
		"backlog_api_key":        PlaceholderAPIKey,
		"backlog_access_token":   "",
		"backlog_project_key":    PlaceholderProjectKey,
		"backlog_post_type":      PostTypeIssue,
		"backlog_md_dir":         "docs",
		"backlog_attachment_dir": "docs/attachments",
		"backlog_priority_id":    "",
		"backlog_issue_type_id":  "",
	}
}

// ErrEnvExists is returned by WriteEnvTemplate when the file exists and
// force is not set.
var ErrEnvExists = errors.New(".env already exists")

// WriteEnvTemplate writes EnvTemplate to path.
func WriteEnvTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrEnvExists)
		}
	}
	if err := godotenv.Write(EnvTemplate(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
