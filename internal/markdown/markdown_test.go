package markdown

import (
	"testing"
)

func TestFormat_Lists(t *testing.T) {
	in := "- a\n- b\n\nSome text.\n\n1) x\n2) y\n"
	want := "* a\n* b\n\nSome text.\n\n1. x\n2. y\n"
	if got := Format(in); got != want {
		t.Errorf("Format =\n%q\nwant\n%q", got, want)
	}
}

func TestFormat_NestedList(t *testing.T) {
	in := "- a\n  - b\n- c\n"
	want := "* a\n  * b\n* c\n"
	if got := Format(in); got != want {
		t.Errorf("Format =\n%q\nwant\n%q", got, want)
	}
}

func TestFormat_IndentedCodeBecomesFenced(t *testing.T) {
	in := "para\n\n    x := 1\n"
	want := "para\n\n```\nx := 1\n```\n"
	if got := Format(in); got != want {
		t.Errorf("Format =\n%q\nwant\n%q", got, want)
	}
}

func TestFormat_FenceGrowsAroundBackticks(t *testing.T) {
	in := "````md\n```\ninner\n```\n````\n"
	if got := Format(in); got != in {
		t.Errorf("Format =\n%q\nwant\n%q", got, in)
	}
}

func TestFormat_KeepsEscapes(t *testing.T) {
	in := "a \\* b \\[c\\]\n"
	if got := Format(in); got != in {
		t.Errorf("Format = %q, want %q", got, in)
	}
}

func TestParse_DefinitionsStayInTree(t *testing.T) {
	in := "![logo][img]\n\n[img]: ./a.png\n[other]: <my file.txt> \"T\"\n"
	root := Parse(in)
	if len(root.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(root.Children))
	}
	def, ok := root.Children[1].(*Definition)
	if !ok {
		t.Fatalf("children[1] = %T, want *Definition", root.Children[1])
	}
	if def.Identifier != "img" || def.URL != "./a.png" {
		t.Errorf("definition = %+v", def)
	}
	other := root.Children[2].(*Definition)
	if other.URL != "my file.txt" || other.Title != "T" {
		t.Errorf("definition = %+v", other)
	}
	want := "![logo][img]\n\n[img]: ./a.png\n[other]: <my file.txt> \"T\"\n"
	if got := Stringify(root); got != want {
		t.Errorf("Stringify =\n%q\nwant\n%q", got, want)
	}
}

func TestParse_ReferenceForms(t *testing.T) {
	in := "[t][R] [r][] [r] [i](http://x \"T\")\n\n[r]: http://x\n"
	root := Parse(in)
	para := root.Children[0].(*Paragraph)

	var refs []*LinkReference
	var links []*Link
	for _, n := range para.Children {
		switch n := n.(type) {
		case *LinkReference:
			refs = append(refs, n)
		case *Link:
			links = append(links, n)
		}
	}
	if len(refs) != 3 || len(links) != 1 {
		t.Fatalf("refs = %d, links = %d", len(refs), len(links))
	}
	if refs[0].Ref != RefFull || refs[0].Label != "R" || refs[0].Identifier != "r" {
		t.Errorf("full ref = %+v", refs[0])
	}
	if refs[1].Ref != RefCollapsed || refs[2].Ref != RefShortcut {
		t.Errorf("kinds = %v, %v", refs[1].Ref, refs[2].Ref)
	}
	if links[0].URL != "http://x" || links[0].Title != "T" {
		t.Errorf("link = %+v", links[0])
	}
	if got := Stringify(root); got != in {
		t.Errorf("Stringify =\n%q\nwant\n%q", got, in)
	}
}

func TestParse_ImageReferenceInsideLink(t *testing.T) {
	in := "[![badge][b]](https://ci.example.com) [see ![i][b]](other.md)\n\n[b]: https://img.example.com/b.svg\n"
	para := Parse(in).Children[0].(*Paragraph)

	var links []*Link
	for _, n := range para.Children {
		if l, ok := n.(*Link); ok {
			links = append(links, l)
		}
	}
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2 (children %#v)", len(links), para.Children)
	}
	if links[0].URL != "https://ci.example.com" || links[1].URL != "other.md" {
		t.Errorf("urls = %q, %q", links[0].URL, links[1].URL)
	}
	badge, ok := links[0].Children[0].(*ImageReference)
	if !ok || badge.Ref != RefFull || badge.Label != "b" {
		t.Errorf("badge = %#v", links[0].Children[0])
	}
	if got := Format(in); got != in {
		t.Errorf("Format =\n%q\nwant\n%q", got, in)
	}
}

func TestFormat_SetextHeadingLineBreak(t *testing.T) {
	in := "Foo\nbar\n===\n\nBaz\nqux\n---\n"
	want := "# Foo bar\n\n## Baz qux\n"
	got := Format(in)
	if got != want {
		t.Errorf("Format =\n%q\nwant\n%q", got, want)
	}
	if again := Format(got); again != got {
		t.Errorf("not idempotent: %q", again)
	}
}

func TestParse_ImageLine(t *testing.T) {
	root := Parse("# T\n\npara\n\n![i](p.png)\n")
	var img *Image
	Inspect(root, func(n Node) bool {
		if i, ok := n.(*Image); ok {
			img = i
		}
		return true
	})
	if img == nil {
		t.Fatal("image not found")
	}
	if img.Line != 5 {
		t.Errorf("line = %d, want 5", img.Line)
	}
	if img.URL != "p.png" {
		t.Errorf("url = %q", img.URL)
	}
}

func TestTransform_CopyOnWrite(t *testing.T) {
	root := Parse("hello *world*\n")
	out := Transform(root, Rewriter{
		Inline: func(n Inline) Inline {
			if tx, ok := n.(*Text); ok {
				tx.Value = "X"
			}
			return n
		},
	})
	if got := Stringify(root); got != "hello *world*\n" {
		t.Errorf("original changed: %q", got)
	}
	if got := Stringify(out); got != "X*X*\n" {
		t.Errorf("transformed = %q", got)
	}
}

func TestTransform_RemoveBlocks(t *testing.T) {
	root := Parse("text\n\n[a]: x.png\n")
	out := Transform(root, Rewriter{
		Block: func(b Block) []Block {
			if _, ok := b.(*Definition); ok {
				return nil
			}
			return []Block{b}
		},
	})
	if got := Stringify(out); got != "text\n" {
		t.Errorf("Stringify = %q", got)
	}
}

func TestFormat_Idempotent(t *testing.T) {
	docs := []string{
		"# Title\n\nSome *emph* and **strong** and ~~gone~~ and `code`.\n\n> quoted\n> more\n\n---\n",
		"1. one\n2. two\n\n   continued\n3. three\n",
		"- [x] done\n- [ ] todo\n",
		"| a | b |\n|:--|--:|\n| 1 | 2 |\n",
		"See <https://example.com> and https://example.org/x.\n",
		"line one  \nline two\n",
		"<div>\nraw\n</div>\n\nafter\n",
	}
	for _, d := range docs {
		once := Format(d)
		twice := Format(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\nonce  %q\ntwice %q", d, once, twice)
		}
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  Foo \t Bar "); got != "foo bar" {
		t.Errorf("NormalizeIdentifier = %q", got)
	}
}
