package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempWorkspace(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempWorkspace(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempWorkspace(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteFromStreams(t *testing.T) {
	s := tempWorkspace(t)
	n, err := s.WriteFrom("docs/attachments/a.bin", strings.NewReader("0123456789"))
	if err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}
	if n != 10 {
		t.Errorf("n = %d, want 10", n)
	}
	info, err := s.Stat("docs/attachments/a.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 10 {
		t.Errorf("size = %d, want 10", info.Size())
	}
	if !Exists(s, "docs/attachments/a.bin") {
		t.Error("Exists = false")
	}
	if Exists(s, "docs/attachments/missing.bin") {
		t.Error("Exists = true for missing file")
	}
}

func TestOpen(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("x.md", []byte("stream"))
	rc, err := s.Open("x.md")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	buf := make([]byte, 6)
	if _, err := rc.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "stream" {
		t.Errorf("buf = %q", buf)
	}
}

func TestList(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("docs/b.md", []byte("b"))
	_ = s.Write("docs/sub/a.md", []byte("aa"))
	_ = s.Write("docs/readme.txt", []byte("not md"))

	items, err := s.List("docs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Path != "docs/b.md" || items[1].Path != "docs/sub/a.md" {
		t.Errorf("paths = %q, %q", items[0].Path, items[1].Path)
	}
	if items[1].Size != 2 {
		t.Errorf("size = %d, want 2", items[1].Size)
	}
}

func TestListMissingDir(t *testing.T) {
	s := tempWorkspace(t)
	items, err := s.List("nope")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len = %d, want 0", len(items))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWorkspace(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.Root(), ".md2backlog-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "md2backlog-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
