// Package docindex maps remote document ids to the local files holding them.
package docindex

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/header"
	"github.com/starford/md2backlog/internal/storage"
)

// Index is built lazily on first use by reading the header of every
// Markdown file under dir. Bodies are never loaded. The scan happens once;
// files written afterwards are not picked up.
type Index struct {
	store storage.Provider
	dir   string
	skip  []string

	mu     sync.Mutex
	built  bool
	err    error
	byID   map[string]string
	titles map[string]string
	// taken holds paths handed out by Resolve during this run.
	taken map[string]bool
}

// New creates an index over the documents under dir. Files under any of
// the skip directories, such as the attachment directory, are not read.
func New(store storage.Provider, dir string, skip ...string) *Index {
	return &Index{store: store, dir: dir, skip: skip}
}

func (x *Index) skipped(p string) bool {
	for _, d := range x.skip {
		if d = path.Clean(d); d != "." && d != "" && strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

func (x *Index) build() error {
	if x.built {
		return x.err
	}
	x.built = true
	x.byID = make(map[string]string)
	x.titles = make(map[string]string)
	x.taken = make(map[string]bool)

	files, err := x.store.List(x.dir)
	if err != nil {
		x.err = fmt.Errorf("docindex: %w", err)
		return x.err
	}
	for _, f := range files {
		if x.skipped(f.Path) {
			continue
		}
		h, err := header.ScanFile(x.store, f.Path)
		if err != nil {
			x.err = err
			return err
		}
		id := h.ID()
		if id == "" {
			continue
		}
		if prev, ok := x.byID[id]; ok {
			x.err = &apperr.DuplicateDocumentError{ID: id, Paths: []string{prev, f.Path}}
			return x.err
		}
		x.byID[id] = f.Path
		x.titles[id] = h.Title()
	}
	return nil
}

// Lookup returns the path of the local file whose header declares id.
func (x *Index) Lookup(id string) (string, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.build(); err != nil {
		return "", false, err
	}
	p, ok := x.byID[id]
	return p, ok, nil
}

// Title returns the title recorded in the header of the file holding id.
func (x *Index) Title(id string) string {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.build() != nil {
		return ""
	}
	return x.titles[id]
}

// Resolve returns the local path for id. A known id keeps its existing
// location. Otherwise a new path defaultDir/slug.md is synthesized,
// avoiding existing files and paths already handed out in this run. The
// synthesized path is remembered so id resolves the same way until the
// index is discarded.
func (x *Index) Resolve(id, title, defaultDir string) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.build(); err != nil {
		return "", err
	}
	if p, ok := x.byID[id]; ok {
		return p, nil
	}

	stem := Slug(id, title)
	candidate := path.Join(defaultDir, stem+".md")
	for n := 1; x.taken[candidate] || storage.Exists(x.store, candidate); n++ {
		candidate = path.Join(defaultDir, fmt.Sprintf("%s-%d.md", stem, n))
	}
	x.taken[candidate] = true
	x.byID[id] = candidate
	x.titles[id] = title
	return candidate, nil
}
