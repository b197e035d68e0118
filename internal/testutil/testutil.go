// Package testutil provides shared test helpers: temporary workspaces and an
// in-memory remote store.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/journal"
	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/remote"
	"github.com/starford/md2backlog/internal/storage"
)

// TestWorkspace creates a temporary workspace holding files (path -> content).
func TestWorkspace(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	for p, content := range files {
		if err := store.Write(p, []byte(content)); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return dir, store
}

// TestJournal opens a journal in a temporary directory that is closed on cleanup.
func TestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// FakeStore is an in-memory remote.Store that counts calls by method name.
type FakeStore struct {
	mu sync.Mutex

	Project         remote.Project
	Classifications remote.Classifications

	docs    map[string]*remote.Document
	order   []string
	blobs   map[string][]byte // attachment id -> content
	names   map[string]string // attachment id -> file name
	nextDoc int
	nextAtt int
	clock   time.Time
	calls   map[string]int
}

// NewFakeStore returns a store with one Markdown project under key.
func NewFakeStore(key string) *FakeStore {
	return &FakeStore{
		Project: remote.Project{ID: "100", Key: key, Name: key, TextFormattingRule: "markdown"},
		Classifications: remote.Classifications{
			Priorities: []remote.Classification{{ID: "2", Name: "高"}, {ID: "3", Name: "中"}},
			Types:      []remote.Classification{{ID: "10", Name: "バグ"}, {ID: "11", Name: "タスク"}},
		},
		docs:  make(map[string]*remote.Document),
		blobs: make(map[string][]byte),
		names: make(map[string]string),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		calls: make(map[string]int),
	}
}

// Calls returns how many times method was called.
func (f *FakeStore) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Writes returns the number of mutating calls made so far.
func (f *FakeStore) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["CreateDocument"] + f.calls["PatchDocument"] + f.calls["UploadAttachment"] + f.calls["DeleteAttachment"]
}

// ResetCalls clears the call counters.
func (f *FakeStore) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// Seed stores a document directly, bypassing the counters. Attachments are
// given as file name -> content.
func (f *FakeStore) Seed(title, body string, attachments map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDoc++
	id := fmt.Sprintf("%s-%d", f.Project.Key, f.nextDoc)
	doc := &remote.Document{ID: id, Title: title, Body: body, Updated: f.tick()}
	names := make([]string, 0, len(attachments))
	for name := range attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		attID := f.storeBlob(name, []byte(attachments[name]))
		doc.Attachments = append(doc.Attachments, f.attachment(attID))
	}
	f.docs[id] = doc
	f.order = append(f.order, id)
	return id
}

// Document returns a copy of the stored document.
func (f *FakeStore) Document(id string) (remote.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return remote.Document{}, false
	}
	return copyDoc(d), true
}

func (f *FakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *FakeStore) storeBlob(name string, data []byte) string {
	f.nextAtt++
	id := fmt.Sprintf("%d", f.nextAtt)
	f.blobs[id] = data
	f.names[id] = name
	return id
}

func (f *FakeStore) attachment(id string) models.RemoteAttachment {
	return models.RemoteAttachment{ID: id, Name: f.names[id], Size: int64(len(f.blobs[id]))}
}

func copyDoc(d *remote.Document) remote.Document {
	c := *d
	c.Attachments = append([]models.RemoteAttachment(nil), d.Attachments...)
	return c
}

func (f *FakeStore) FindProject(_ context.Context, key string) (*remote.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["FindProject"]++
	if key != f.Project.Key {
		return nil, apperr.ErrNotFound
	}
	p := f.Project
	return &p, nil
}

func (f *FakeStore) ListDocuments(_ context.Context, projectID string, offset, count int) ([]remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListDocuments"]++
	if projectID != f.Project.ID {
		return nil, apperr.ErrNotFound
	}
	var out []remote.Document
	for i := offset; i < len(f.order) && i < offset+count; i++ {
		out = append(out, copyDoc(f.docs[f.order[i]]))
	}
	return out, nil
}

func (f *FakeStore) GetDocument(_ context.Context, id string) (*remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetDocument"]++
	d, ok := f.docs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := copyDoc(d)
	return &c, nil
}

func (f *FakeStore) CreateDocument(_ context.Context, in remote.CreateInput) (*remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateDocument"]++
	if in.PriorityID == "" || in.TypeID == "" {
		return nil, fmt.Errorf("fake: priority and type are required")
	}
	f.nextDoc++
	id := fmt.Sprintf("%s-%d", f.Project.Key, f.nextDoc)
	doc := &remote.Document{ID: id, Title: in.Title, Body: in.Body, Updated: f.tick()}
	for _, a := range in.AttachmentIDs {
		doc.Attachments = append(doc.Attachments, f.attachment(a))
	}
	f.docs[id] = doc
	f.order = append(f.order, id)
	c := copyDoc(doc)
	return &c, nil
}

func (f *FakeStore) PatchDocument(_ context.Context, in remote.PatchInput) (*remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PatchDocument"]++
	doc, ok := f.docs[in.ID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	doc.Title = in.Title
	doc.Body = in.Body
	for _, a := range in.AttachmentIDs {
		doc.Attachments = append(doc.Attachments, f.attachment(a))
	}
	doc.Updated = f.tick()
	c := copyDoc(doc)
	return &c, nil
}

func (f *FakeStore) UploadAttachment(_ context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UploadAttachment"]++
	return f.storeBlob(filename, data), nil
}

func (f *FakeStore) DeleteAttachment(_ context.Context, documentID, attachmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteAttachment"]++
	doc, ok := f.docs[documentID]
	if !ok {
		return apperr.ErrNotFound
	}
	kept := doc.Attachments[:0]
	found := false
	for _, a := range doc.Attachments {
		if a.ID == attachmentID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	doc.Attachments = kept
	if !found {
		return apperr.ErrNotFound
	}
	return nil
}

func (f *FakeStore) DownloadAttachment(_ context.Context, documentID, attachmentID string) (*remote.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DownloadAttachment"]++
	if _, ok := f.docs[documentID]; !ok {
		return nil, apperr.ErrNotFound
	}
	data, ok := f.blobs[attachmentID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &remote.Download{Filename: f.names[attachmentID], Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *FakeStore) ListClassifications(_ context.Context, projectID string) (*remote.Classifications, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListClassifications"]++
	c := f.Classifications
	return &c, nil
}

var _ remote.Store = (*FakeStore)(nil)
