// Package watch puts local documents as they are saved and optionally pulls
// the remote project on a schedule.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/starford/md2backlog/internal/checksum"
	"github.com/starford/md2backlog/internal/storage"
	"github.com/starford/md2backlog/internal/syncer"
)

// Syncer is the part of a session the runner drives.
type Syncer interface {
	Put(ctx context.Context, path string, opts syncer.PutOptions) (*syncer.PutResult, error)
	FetchAll(ctx context.Context, opts syncer.FetchOptions) (*syncer.FetchResult, error)
}

// Factory returns a fresh session for one operation, so every operation
// sees a freshly built Document Index.
type Factory func() Syncer

// EventCallback is called after each operation. kind is the put status,
// "fetched" or "failed".
type EventCallback func(kind, path string)

// Layout names the watched directories, relative to the workspace root.
type Layout struct {
	LocalDir      string
	AttachmentDir string
	IndexFile     string
}

// Runner watches the local collection. Operations never overlap.
type Runner struct {
	store      storage.Provider
	layout     Layout
	newSession Factory

	debounce    time.Duration
	schedule    string
	createIndex bool
	logger      *slog.Logger
	cb          EventCallback

	mu      sync.Mutex
	written map[string]string // path -> checksum of the last file the tool wrote
}

// Option configures a Runner.
type Option func(*Runner)

// WithDebounce sets how long the runner waits for writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(r *Runner) { r.debounce = d }
}

// WithPullSchedule runs a fetch-all on the given cron schedule.
func WithPullSchedule(spec string, createIndex bool) Option {
	return func(r *Runner) {
		r.schedule = spec
		r.createIndex = createIndex
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithCallback registers cb.
func WithCallback(cb EventCallback) Option {
	return func(r *Runner) { r.cb = cb }
}

// New creates a runner.
func New(store storage.Provider, layout Layout, newSession Factory, opts ...Option) *Runner {
	r := &Runner{
		store:      store,
		layout:     layout,
		newSession: newSession,
		debounce:   500 * time.Millisecond,
		logger:     slog.Default(),
		written:    make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run watches until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	root := r.store.Root()
	dir := filepath.Join(root, filepath.FromSlash(r.layout.LocalDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := r.addDirs(w, dir); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if r.schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(r.schedule, func() { r.Pull(ctx) }); err != nil {
			return fmt.Errorf("watch: pull schedule %q: %w", r.schedule, err)
		}
		c.Start()
		defer c.Stop()
	}

	r.logger.Info("watcher: started", slog.String("dir", dir), slog.String("pull_schedule", r.schedule))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("watcher: stopped")
			return nil

		case <-fire:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			for _, p := range paths {
				r.Push(ctx, p)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := r.addDirs(w, ev.Name); err != nil {
						r.logger.Warn("watcher: add new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !r.relevant(rel) {
				continue
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				fire = timer.C
			} else {
				timer.Reset(r.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// relevant reports whether a change to rel should trigger a put.
func (r *Runner) relevant(rel string) bool {
	if !strings.HasSuffix(rel, ".md") {
		return false
	}
	if !within(rel, r.layout.LocalDir) {
		return false
	}
	if r.layout.AttachmentDir != "" && within(rel, r.layout.AttachmentDir) {
		return false
	}
	return rel != path.Join(r.layout.LocalDir, r.layout.IndexFile)
}

func within(p, dir string) bool {
	dir = path.Clean(dir)
	if dir == "." || dir == "" {
		return !strings.HasPrefix(p, "../")
	}
	return strings.HasPrefix(p, dir+"/")
}

// Push puts the document at rel unless its content is what the tool
// itself last wrote there.
func (r *Runner) Push(ctx context.Context, rel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum, err := checksum.File(r.store, rel)
	if err != nil {
		r.logger.Debug("watcher: skip unreadable", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if r.written[rel] == sum {
		return
	}

	res, err := r.newSession().Put(ctx, rel, syncer.PutOptions{})
	if err != nil {
		r.logger.Error("watcher: put failed", slog.String("path", rel), slog.String("error", err.Error()))
		r.notify("failed", rel)
		return
	}
	r.remember(rel)
	r.logger.Info("watcher: put", slog.String("path", rel), slog.String("id", res.Document.ID), slog.String("status", string(res.Status)))
	r.notify(string(res.Status), rel)
}

// Pull runs a fetch-all.
func (r *Runner) Pull(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.newSession().FetchAll(ctx, syncer.FetchOptions{CreateIndex: r.createIndex})
	if res != nil {
		for _, d := range res.Documents {
			r.remember(d.SourcePath)
		}
	}
	if err != nil {
		r.logger.Error("watcher: fetch failed", slog.String("error", err.Error()))
		r.notify("failed", r.layout.LocalDir)
		return
	}
	r.logger.Info("watcher: fetched", slog.Int("documents", len(res.Documents)))
	r.notify("fetched", r.layout.LocalDir)
}

func (r *Runner) remember(rel string) {
	sum, err := checksum.File(r.store, rel)
	if err != nil {
		delete(r.written, rel)
		return
	}
	r.written[rel] = sum
}

func (r *Runner) notify(kind, rel string) {
	if r.cb != nil {
		r.cb(kind, rel)
	}
}

// addDirs adds root and its subdirectories, except the attachment
// directory, to the watcher.
func (r *Runner) addDirs(w *fsnotify.Watcher, root string) error {
	skip := ""
	if r.layout.AttachmentDir != "" {
		skip = filepath.Join(r.store.Root(), filepath.FromSlash(r.layout.AttachmentDir))
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p == skip {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
