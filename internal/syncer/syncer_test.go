package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/checksum"
	"github.com/starford/md2backlog/internal/header"
	"github.com/starford/md2backlog/internal/journal"
	"github.com/starford/md2backlog/internal/remote"
	"github.com/starford/md2backlog/internal/storage"
	"github.com/starford/md2backlog/internal/testutil"
)

const testHost = "example.backlog.com"

func settings() Settings {
	return Settings{
		Host:          testHost,
		ProjectKey:    "PROJ",
		PostType:      PostTypeIssue,
		LocalDir:      "docs",
		AttachmentDir: "docs/attachments",
		Priority:      "中",
		IssueType:     "タスク",
		IndexFile:     "index.md",
		IndexTitle:    "Index",
	}
}

type fixture struct {
	store   storage.Provider
	remote  *testutil.FakeStore
	journal *journal.Journal
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	_, store := testutil.TestWorkspace(t, files)
	return &fixture{store: store, remote: testutil.NewFakeStore("PROJ"), journal: testutil.TestJournal(t)}
}

func (f *fixture) session() *Session {
	clock := func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return New(settings(), f.store, f.remote, WithJournal(f.journal), WithClock(clock))
}

func (f *fixture) read(t *testing.T, p string) string {
	t.Helper()
	data, err := f.store.Read(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

const draft = "---\ntitle: Draft\nauthor: me\n---\n\n# Draft\n\n![pic](img/p.png)\n\n- one\n- two\n"

func TestPut_CreatesDocument(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/draft.md":  draft,
		"docs/img/p.png": "abc",
	})
	res, err := f.session().Put(context.Background(), "docs/draft.md", PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.Status != StatusCreated {
		t.Fatalf("status = %s, want created", res.Status)
	}
	if res.Document.ID != "PROJ-1" {
		t.Errorf("id = %q, want PROJ-1", res.Document.ID)
	}

	stored, ok := f.remote.Document("PROJ-1")
	if !ok {
		t.Fatal("document not created")
	}
	wantBody := "# Draft\n\n![pic][img/p.png]\n\n* one\n* two\n"
	if stored.Body != wantBody {
		t.Errorf("remote body =\n%q\nwant\n%q", stored.Body, wantBody)
	}
	if len(stored.Attachments) != 1 || stored.Attachments[0].Name != "p.png" || stored.Attachments[0].Size != 3 {
		t.Errorf("attachments = %+v", stored.Attachments)
	}

	raw := f.read(t, "docs/draft.md")
	parsed, err := header.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	h := parsed.Header
	if h.ID() != "PROJ-1" || h.URL() != "https://"+testHost+"/view/PROJ-1" || h.Get("author") != "me" {
		t.Errorf("header keys = %v, id %q url %q", h.Keys(), h.ID(), h.URL())
	}
	if h.Updated().IsZero() {
		t.Error("updated not written")
	}
	if !strings.Contains(parsed.Body, "![pic](img/p.png)") || !strings.Contains(parsed.Body, "* one") {
		t.Errorf("local body = %q", parsed.Body)
	}

	rec, err := f.journal.ByPath("docs/draft.md")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if rec.DocID != "PROJ-1" || rec.Checksum != checksum.Sum([]byte(raw)) {
		t.Errorf("journal record = %+v", rec)
	}
}

func TestPut_SecondPutIsNoOp(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/draft.md":  draft,
		"docs/img/p.png": "abc",
	})
	ctx := context.Background()
	if _, err := f.session().Put(ctx, "docs/draft.md", PutOptions{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	f.remote.ResetCalls()

	res, err := f.session().Put(ctx, "docs/draft.md", PutOptions{})
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if res.Status != StatusUnchanged {
		t.Errorf("status = %s, want unchanged", res.Status)
	}
	if n := f.remote.Writes(); n != 0 {
		t.Errorf("remote writes = %d, want 0", n)
	}
}

func TestPut_ChangedAttachmentReplacesAll(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/a.md":      "---\ntitle: A\n---\n\n![p](img/p.png) ![q](img/q.png) ![r](img/r.png)\n",
		"docs/img/p.png": "1",
		"docs/img/q.png": "22",
		"docs/img/r.png": "333",
	})
	ctx := context.Background()
	if _, err := f.session().Put(ctx, "docs/a.md", PutOptions{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := f.store.Write("docs/img/q.png", []byte("changed")); err != nil {
		t.Fatal(err)
	}
	f.remote.ResetCalls()

	res, err := f.session().Put(ctx, "docs/a.md", PutOptions{})
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if res.Status != StatusUpdated {
		t.Errorf("status = %s, want updated", res.Status)
	}
	if got := f.remote.Calls("DeleteAttachment"); got != 3 {
		t.Errorf("deletes = %d, want 3", got)
	}
	if got := f.remote.Calls("UploadAttachment"); got != 3 {
		t.Errorf("uploads = %d, want 3", got)
	}
	if got := f.remote.Calls("PatchDocument"); got != 1 {
		t.Errorf("patches = %d, want 1", got)
	}
	stored, _ := f.remote.Document("PROJ-1")
	if len(stored.Attachments) != 3 {
		t.Errorf("attachments = %+v", stored.Attachments)
	}
}

func TestPut_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t, map[string]string{"docs/draft.md": draft, "docs/img/p.png": "abc"})
	res, err := f.session().Put(context.Background(), "docs/draft.md", PutOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.Status != StatusDryRun {
		t.Errorf("status = %s, want dry-run", res.Status)
	}
	if len(res.Plan.Upload) != 1 {
		t.Errorf("plan = %+v", res.Plan)
	}
	if !strings.Contains(res.Diff, "+# Draft") {
		t.Errorf("diff = %q", res.Diff)
	}
	if n := f.remote.Writes(); n != 0 {
		t.Errorf("remote writes = %d, want 0", n)
	}
	if got := f.read(t, "docs/draft.md"); got != draft {
		t.Errorf("local file rewritten:\n%s", got)
	}
}

func TestPut_BrokenLinkAbortsBeforeRemoteCalls(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/a.md": "---\ntitle: A\n---\n\nsee [gone](gone.md)\n",
	})
	_, err := f.session().Put(context.Background(), "docs/a.md", PutOptions{})
	var broken *apperr.BrokenCrossReferenceError
	if !errors.As(err, &broken) {
		t.Fatalf("err = %v, want BrokenCrossReferenceError", err)
	}
	if broken.Line != 5 {
		t.Errorf("line = %d, want 5", broken.Line)
	}
	if n := f.remote.Writes(); n != 0 {
		t.Errorf("remote writes = %d, want 0", n)
	}
}

func TestPut_MissingClassification(t *testing.T) {
	f := newFixture(t, map[string]string{"docs/a.md": "---\ntitle: A\n---\n\nbody\n"})
	f.remote.Classifications.Types = nil
	_, err := f.session().Put(context.Background(), "docs/a.md", PutOptions{})
	if !errors.Is(err, apperr.ErrMissingClassification) {
		t.Fatalf("err = %v, want ErrMissingClassification", err)
	}
}

func TestPut_MissingClassificationUploadsNothing(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/a.md":      "---\ntitle: A\n---\n\n![pic](img/p.png)\n",
		"docs/img/p.png": "PNG",
	})
	f.remote.Classifications.Types = nil
	_, err := f.session().Put(context.Background(), "docs/a.md", PutOptions{})
	if !errors.Is(err, apperr.ErrMissingClassification) {
		t.Fatalf("err = %v, want ErrMissingClassification", err)
	}
	if n := f.remote.Calls("UploadAttachment"); n != 0 {
		t.Errorf("uploads = %d, want 0", n)
	}
	if n := f.remote.Writes(); n != 0 {
		t.Errorf("remote writes = %d, want 0", n)
	}
}

func TestPut_UnsupportedFormatting(t *testing.T) {
	f := newFixture(t, map[string]string{"docs/a.md": "---\ntitle: A\n---\n\nbody\n"})
	f.remote.Project.TextFormattingRule = "backlog"
	_, err := f.session().Put(context.Background(), "docs/a.md", PutOptions{})
	if !errors.Is(err, apperr.ErrUnsupportedFormatting) {
		t.Fatalf("err = %v, want ErrUnsupportedFormatting", err)
	}
}

func TestUnsupportedPostType(t *testing.T) {
	f := newFixture(t, nil)
	cfg := settings()
	cfg.PostType = "wiki"
	s := New(cfg, f.store, f.remote)
	if _, err := s.FetchAll(context.Background(), FetchOptions{}); !errors.Is(err, apperr.ErrUnsupportedCollectionType) {
		t.Errorf("FetchAll err = %v, want ErrUnsupportedCollectionType", err)
	}
	if _, err := s.Put(context.Background(), "docs/a.md", PutOptions{}); !errors.Is(err, apperr.ErrUnsupportedCollectionType) {
		t.Errorf("Put err = %v, want ErrUnsupportedCollectionType", err)
	}
}

func TestPick(t *testing.T) {
	candidates := []remote.Classification{{ID: "1", Name: "高"}, {ID: "2", Name: "中"}}
	if id, _ := pick(candidates, "中", "priority", "PROJ"); id != "2" {
		t.Errorf("preferred = %q, want 2", id)
	}
	if id, _ := pick(candidates, "低", "priority", "PROJ"); id != "1" {
		t.Errorf("fallback = %q, want 1", id)
	}
	if _, err := pick(nil, "中", "priority", "PROJ"); !errors.Is(err, apperr.ErrMissingClassification) {
		t.Errorf("err = %v, want ErrMissingClassification", err)
	}
}

func TestFetchAll_PagesAttachmentsAndLinks(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/kept/name.md": "---\ndocId: PROJ-2\ntitle: old title\nowner: team\n---\n\nold\n",
	})
	f.remote.Seed("With image", "![x][a.png]\n", map[string]string{"a.png": "PNG"})
	f.remote.Seed("Linker", "See [one](https://"+testHost+"/view/PROJ-1)\n", nil)
	for i := 3; i <= 21; i++ {
		f.remote.Seed(fmt.Sprintf("Doc %d", i), "text\n", nil)
	}

	res, err := f.session().FetchAll(context.Background(), FetchOptions{CreateIndex: true})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Documents) != 21 {
		t.Errorf("documents = %d, want 21", len(res.Documents))
	}
	if got := f.remote.Calls("ListDocuments"); got != 2 {
		t.Errorf("list calls = %d, want 2", got)
	}

	img := f.read(t, "docs/proj-1-with-image.md")
	if !strings.Contains(img, "[a.png]: attachments/a.png") {
		t.Errorf("definition missing:\n%s", img)
	}
	if got := f.read(t, "docs/attachments/a.png"); got != "PNG" {
		t.Errorf("attachment = %q", got)
	}

	linker := f.read(t, "docs/kept/name.md")
	if !strings.Contains(linker, "[one](../proj-1-with-image.md)") {
		t.Errorf("link not rewritten:\n%s", linker)
	}
	parsed, err := header.Decode([]byte(linker))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Header.Title() != "Linker" || parsed.Header.Get("owner") != "team" {
		t.Errorf("header not merged: %v", parsed.Header.Keys())
	}

	index := f.read(t, res.IndexPath)
	first := strings.Index(index, "[PROJ-3 Doc 3]")
	linkerAt := strings.Index(index, "[PROJ-2 Linker](kept/name.md)")
	withImage := strings.Index(index, "[PROJ-1 With image](proj-1-with-image.md)")
	if first < 0 || linkerAt < 0 || withImage < 0 || !(first < linkerAt && linkerAt < withImage) {
		t.Errorf("index order wrong:\n%s", index)
	}
	if !strings.Contains(index, "docId: index") {
		t.Errorf("index header missing:\n%s", index)
	}

	records, err := f.journal.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 21 {
		t.Errorf("journal records = %d, want 21", len(records))
	}
}

func TestFetchThenPutIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.Seed("With image", "![x][a.png]\n", map[string]string{"a.png": "PNG"})
	f.remote.Seed("Linker", "See [one](PROJ-1)\n", nil)
	ctx := context.Background()
	if _, err := f.session().FetchAll(ctx, FetchOptions{}); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	f.remote.ResetCalls()

	for _, p := range []string{"docs/proj-1-with-image.md", "docs/proj-2-linker.md"} {
		res, err := f.session().Put(ctx, p, PutOptions{})
		if err != nil {
			t.Fatalf("Put %s: %v", p, err)
		}
		if res.Status != StatusUnchanged {
			t.Errorf("%s: status = %s, content %q", p, res.Status, res.Content)
		}
	}
	if n := f.remote.Writes(); n != 0 {
		t.Errorf("remote writes = %d, want 0", n)
	}
}

func TestFetchOne_FormatsPlainBody(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.Seed("Plain", "- a\n- b\n", nil)
	doc, err := f.session().FetchOne(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	got := f.read(t, doc.SourcePath)
	if !strings.HasSuffix(got, "---\n\n* a\n* b\n") {
		t.Errorf("file =\n%s", got)
	}
	if doc.Body != "* a\n* b\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestFetchOne(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.Seed("Only", "hello\n", nil)
	doc, err := f.session().FetchOne(context.Background(), "/view/PROJ-1")
	if err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	if doc.SourcePath != "docs/proj-1-only.md" {
		t.Errorf("path = %q", doc.SourcePath)
	}
	if _, err := f.session().FetchOne(context.Background(), "OTHER-1"); !errors.Is(err, apperr.ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference", err)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/new.md":       "---\ntitle: New\n---\n\nx\n",
		"docs/untracked.md": "---\ndocId: PROJ-9\ntitle: U\n---\n\nx\n",
	})
	f.remote.Seed("Synced", "a\n", nil)
	f.remote.Seed("Edited", "b\n", nil)
	ctx := context.Background()
	for _, ref := range []string{"PROJ-1", "PROJ-2"} {
		if _, err := f.session().FetchOne(ctx, ref); err != nil {
			t.Fatalf("FetchOne %s: %v", ref, err)
		}
	}
	edited := f.read(t, "docs/proj-2-edited.md") + "more\n"
	if err := f.store.Write("docs/proj-2-edited.md", []byte(edited)); err != nil {
		t.Fatal(err)
	}

	got, err := f.session().Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := map[string]State{
		"docs/new.md":           StateNew,
		"docs/untracked.md":     StateUntracked,
		"docs/proj-1-synced.md": StateSynced,
		"docs/proj-2-edited.md": StateModified,
	}
	if len(got) != len(want) {
		t.Fatalf("status = %+v", got)
	}
	for _, st := range got {
		if want[st.Path] != st.State {
			t.Errorf("%s = %s, want %s", st.Path, st.State, want[st.Path])
		}
	}
}

func TestLineDiff(t *testing.T) {
	got := lineDiff("a\nb\n", "a\nc\n")
	want := " a\n-b\n+c\n"
	if got != want {
		t.Errorf("lineDiff = %q, want %q", got, want)
	}
	if lineDiff("x", "x") != "" {
		t.Error("equal texts should give an empty diff")
	}
}

func TestRelativeTo(t *testing.T) {
	tests := []struct{ dir, target, want string }{
		{"docs", "docs/a.md", "a.md"},
		{"docs", "docs/sub/a.md", "sub/a.md"},
		{"docs/sub", "docs/a.md", "../a.md"},
		{".", "a.md", "a.md"},
	}
	for _, tt := range tests {
		got, err := relativeTo(tt.dir, tt.target)
		if err != nil || got != tt.want {
			t.Errorf("relativeTo(%q, %q) = %q, %v; want %q", tt.dir, tt.target, got, err, tt.want)
		}
	}
}
