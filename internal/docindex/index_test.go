package docindex

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/testutil"
)

func TestResolve_KnownIDKeepsPath(t *testing.T) {
	_, store := testutil.TestWorkspace(t, map[string]string{
		"docs/notes/custom-name.md": "---\ndocId: PROJ-7\ntitle: Seven\n---\n\nbody\n",
	})
	x := New(store, "docs")
	p, err := x.Resolve("PROJ-7", "Renamed remotely", "docs")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p != "docs/notes/custom-name.md" {
		t.Errorf("path = %q", p)
	}
	if got := x.Title("PROJ-7"); got != "Seven" {
		t.Errorf("title = %q, want %q", got, "Seven")
	}
}

func TestResolve_SynthesizesAndDeduplicates(t *testing.T) {
	_, store := testutil.TestWorkspace(t, map[string]string{
		"docs/proj-1-hello-world.md": "---\ntitle: Not indexed by id\n---\n\nbody\n",
	})
	x := New(store, "docs")

	p1, err := x.Resolve("PROJ-1", "Hello, World!", "docs")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p1 != "docs/proj-1-hello-world-1.md" {
		t.Errorf("p1 = %q, want docs/proj-1-hello-world-1.md", p1)
	}

	// A second id slugging to the same stem gets the next suffix.
	p2, err := x.Resolve("proj 1", "hello world", "docs")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p2 != "docs/proj-1-hello-world-2.md" {
		t.Errorf("p2 = %q, want docs/proj-1-hello-world-2.md", p2)
	}

	// The same id resolves to the same path for the rest of the run.
	again, _ := x.Resolve("PROJ-1", "Hello, World!", "docs")
	if again != p1 {
		t.Errorf("again = %q, want %q", again, p1)
	}
}

func TestBuild_MissingTitleIsFatal(t *testing.T) {
	_, store := testutil.TestWorkspace(t, map[string]string{
		"docs/bad.md": "---\ndocId: PROJ-2\n---\n\nbody\n",
	})
	_, _, err := New(store, "docs").Lookup("PROJ-2")
	if !errors.Is(err, apperr.ErrMalformedDocument) {
		t.Fatalf("err = %v, want ErrMalformedDocument", err)
	}
	var me *apperr.MalformedDocumentError
	if !errors.As(err, &me) || me.Path != "docs/bad.md" {
		t.Errorf("error path = %+v", me)
	}
}

func TestBuild_DuplicateIDIsFatal(t *testing.T) {
	_, store := testutil.TestWorkspace(t, map[string]string{
		"docs/a.md": "---\ndocId: PROJ-3\ntitle: A\n---\n",
		"docs/b.md": "---\ndocId: PROJ-3\ntitle: B\n---\n",
	})
	_, _, err := New(store, "docs").Lookup("PROJ-3")
	if !errors.Is(err, apperr.ErrDuplicateDocument) {
		t.Fatalf("err = %v, want ErrDuplicateDocument", err)
	}
}

func TestBuild_SkipsAttachmentDir(t *testing.T) {
	_, store := testutil.TestWorkspace(t, map[string]string{
		"docs/a.md":                 "---\ndocId: PROJ-4\ntitle: A\n---\n",
		"docs/attachments/notes.md": "plain notes without a header\n",
	})
	if _, _, err := New(store, "docs").Lookup("PROJ-4"); !errors.Is(err, apperr.ErrMalformedDocument) {
		t.Fatalf("without skip: err = %v, want ErrMalformedDocument", err)
	}

	p, ok, err := New(store, "docs", "docs/attachments").Lookup("PROJ-4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || p != "docs/a.md" {
		t.Errorf("lookup = %q, %v", p, ok)
	}
}

func TestSlug(t *testing.T) {
	cases := []struct{ id, title, want string }{
		{"PROJ-7", "Hello World", "proj-7-hello-world"},
		{"PROJ-8", "  spaces   and\ttabs ", "proj-8-spaces-and-tabs"},
		{"PROJ-9", "議事録 (2024/01)", "proj-9-議事録-2024-01"},
		{"", "???", "untitled"},
	}
	for _, c := range cases {
		if got := Slug(c.id, c.title); got != c.want {
			t.Errorf("Slug(%q, %q) = %q, want %q", c.id, c.title, got, c.want)
		}
	}
}

func TestSlug_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no leading, trailing or doubled hyphens", prop.ForAll(
		func(id, title string) bool {
			s := Slug(id, title)
			if s == "" || s[0] == '-' || s[len(s)-1] == '-' {
				return false
			}
			for i := 1; i < len(s); i++ {
				if s[i] == '-' && s[i-1] == '-' {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("slug is stable under re-slugging", prop.ForAll(
		func(title string) bool {
			s := Slug("", title)
			return Slug("", s) == s
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
