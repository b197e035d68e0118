package markdown

import (
	"bytes"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// engine is safe for concurrent use: goldmark parsers keep per-call state
// in the parser.Context.
var engine = goldmark.New(
	goldmark.WithParser(parser.NewParser(
		parser.WithBlockParsers(parser.DefaultBlockParsers()...),
		parser.WithInlineParsers(parser.DefaultInlineParsers()...),
		parser.WithParagraphTransformers(util.Prioritized(definitionKeeper{}, 100)),
	)),
	goldmark.WithExtensions(extension.GFM),
)

// Parse builds a tree from Markdown source.
func Parse(src string) *Root {
	source := []byte(src)
	doc := engine.Parser().Parse(text.NewReader(source))
	b := &builder{src: source, lineStarts: lineStarts(source)}
	return &Root{Children: b.blocks(doc)}
}

// NormalizeIdentifier folds a reference label for matching: lower case,
// inner whitespace collapsed, ends trimmed.
func NormalizeIdentifier(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

var kindDefinition = gast.NewNodeKind("Definition")

// definitionNode keeps a link reference definition in the goldmark tree.
// The stock transformer only records definitions in the parser context and
// drops them from the document.
type definitionNode struct {
	gast.BaseBlock
	label, dest, title string
	offset             int
}

func (n *definitionNode) Kind() gast.NodeKind { return kindDefinition }

func (n *definitionNode) Dump(source []byte, level int) {
	gast.DumpHelper(n, source, level, map[string]string{
		"Label":       n.label,
		"Destination": n.dest,
	}, nil)
}

type recordingContext struct {
	parser.Context
	added []parser.Reference
}

func (c *recordingContext) AddReference(ref parser.Reference) {
	c.added = append(c.added, ref)
	c.Context.AddReference(ref)
}

type definitionKeeper struct{}

func (definitionKeeper) Transform(node *gast.Paragraph, reader text.Reader, pc parser.Context) {
	parent := node.Parent()
	next := node.NextSibling()
	offset := 0
	if lines := node.Lines(); lines.Len() > 0 {
		offset = lines.At(0).Start
	}

	rc := &recordingContext{Context: pc}
	parser.LinkReferenceParagraphTransformer.Transform(node, reader, rc)
	if len(rc.added) == 0 || parent == nil {
		return
	}
	if node.Parent() != nil {
		next = node
	}
	src := reader.Source()
	for _, ref := range rc.added {
		def := &definitionNode{
			label:  string(ref.Label()),
			dest:   string(ref.Destination()),
			title:  string(ref.Title()),
			offset: offset,
		}
		if next == nil {
			parent.AppendChild(parent, def)
		} else {
			parent.InsertBefore(parent, next, def)
		}
		// Definitions occupy one line each in the usual case.
		if i := bytes.IndexByte(src[offset:], '\n'); i >= 0 {
			offset += i + 1
		}
	}
}

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

type builder struct {
	src        []byte
	lineStarts []int
}

func (b *builder) line(offset int) int {
	return sort.Search(len(b.lineStarts), func(i int) bool { return b.lineStarts[i] > offset })
}

// blockLine returns the first source line of a block, looking into its
// children when the block carries no lines of its own.
func (b *builder) blockLine(n gast.Node) int {
	if d, ok := n.(*definitionNode); ok {
		return b.line(d.offset)
	}
	if n.Type() == gast.TypeBlock {
		if lines := n.Lines(); lines != nil && lines.Len() > 0 {
			return b.line(lines.At(0).Start)
		}
	}
	if t, ok := n.(*gast.Text); ok {
		return b.line(t.Segment.Start)
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if l := b.blockLine(c); l > 0 {
			return l
		}
	}
	return 0
}

func (b *builder) pos(n gast.Node) Position { return Position{Line: b.blockLine(n)} }

func (b *builder) blocks(parent gast.Node) []Block {
	var out []Block
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if blk := b.block(c); blk != nil {
			out = append(out, blk)
		}
	}
	return out
}

func (b *builder) block(n gast.Node) Block {
	switch n := n.(type) {
	case *gast.Paragraph, *gast.TextBlock:
		kids := b.inlines(n)
		if len(kids) == 0 {
			return nil
		}
		return &Paragraph{Position: b.pos(n), Children: kids}
	case *gast.Heading:
		return &Heading{Position: b.pos(n), Level: n.Level, Children: b.inlines(n)}
	case *gast.ThematicBreak:
		return &ThematicBreak{Position: b.pos(n)}
	case *gast.Blockquote:
		return &Blockquote{Position: b.pos(n), Children: b.blocks(n)}
	case *gast.List:
		l := &List{Position: b.pos(n), Ordered: n.IsOrdered(), Start: n.Start, Tight: n.IsTight}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			l.Items = append(l.Items, &ListItem{Position: b.pos(c), Children: b.blocks(c)})
		}
		return l
	case *gast.FencedCodeBlock:
		lang := ""
		if n.Info != nil {
			lang = string(n.Info.Segment.Value(b.src))
		}
		return &Code{Position: b.pos(n), Lang: lang, Value: b.lines(n.Lines())}
	case *gast.CodeBlock:
		return &Code{Position: b.pos(n), Value: b.lines(n.Lines())}
	case *gast.HTMLBlock:
		v := b.lines(n.Lines())
		if n.HasClosure() {
			v += string(n.ClosureLine.Value(b.src))
		}
		return &HTML{Position: b.pos(n), Value: strings.TrimRight(v, "\n")}
	case *definitionNode:
		return &Definition{
			Position:   b.pos(n),
			Identifier: NormalizeIdentifier(n.label),
			Label:      n.label,
			URL:        n.dest,
			Title:      n.title,
		}
	case *east.Table:
		t := &Table{Position: b.pos(n)}
		for _, a := range n.Alignments {
			t.Align = append(t.Align, alignOf(a))
		}
		for row := n.FirstChild(); row != nil; row = row.NextSibling() {
			var r TableRow
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				r = append(r, TableCell{Children: b.inlines(cell)})
			}
			t.Rows = append(t.Rows, r)
		}
		return t
	default:
		// Unknown block kinds from extensions degrade to their text.
		if n.Type() == gast.TypeBlock && n.Lines() != nil && n.Lines().Len() > 0 {
			return &Paragraph{Position: b.pos(n), Children: []Inline{&Text{Value: strings.TrimRight(b.lines(n.Lines()), "\n")}}}
		}
		return nil
	}
}

func alignOf(a east.Alignment) Align {
	switch a {
	case east.AlignLeft:
		return AlignLeft
	case east.AlignCenter:
		return AlignCenter
	case east.AlignRight:
		return AlignRight
	default:
		return AlignNone
	}
}

func (b *builder) lines(segs *text.Segments) string {
	var sb strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		sb.WriteString(strings.Repeat(" ", seg.Padding))
		sb.Write(seg.Value(b.src))
	}
	return sb.String()
}

func (b *builder) inlines(parent gast.Node) []Inline {
	var out []Inline
	line := b.blockLine(parent)
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, b.inline(c, line)...)
	}
	return mergeText(out)
}

func (b *builder) inlinePos(n gast.Node, fallback int) Position {
	if last, ok := firstText(n); ok {
		return Position{Line: b.line(last.Segment.Start)}
	}
	return Position{Line: fallback}
}

func (b *builder) inline(n gast.Node, line int) []Inline {
	switch n := n.(type) {
	case *gast.Text:
		p := Position{Line: b.line(n.Segment.Start)}
		out := []Inline{&Text{Position: p, Value: string(n.Segment.Value(b.src))}}
		switch {
		case n.HardLineBreak():
			out = append(out, &Break{Position: p, Hard: true})
		case n.SoftLineBreak():
			out = append(out, &Break{Position: p})
		}
		return out
	case *gast.String:
		return []Inline{&Text{Position: Position{Line: line}, Value: string(n.Value)}}
	case *gast.CodeSpan:
		var sb strings.Builder
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *gast.Text:
				sb.Write(t.Segment.Value(b.src))
			case *gast.String:
				sb.Write(t.Value)
			}
		}
		return []Inline{&InlineCode{Position: b.inlinePos(n, line), Value: sb.String()}}
	case *gast.Emphasis:
		kids := b.inlines(n)
		if n.Level >= 2 {
			return []Inline{&Strong{Position: b.inlinePos(n, line), Children: kids}}
		}
		return []Inline{&Emphasis{Position: b.inlinePos(n, line), Children: kids}}
	case *east.Strikethrough:
		return []Inline{&Delete{Position: b.inlinePos(n, line), Children: b.inlines(n)}}
	case *gast.RawHTML:
		return []Inline{&InlineHTML{Position: Position{Line: line}, Value: b.lines(n.Segments)}}
	case *gast.AutoLink:
		url := string(n.URL(b.src))
		return []Inline{&Link{
			Position: Position{Line: line},
			URL:      url,
			Autolink: true,
			Children: []Inline{&Text{Value: string(n.Label(b.src))}},
		}}
	case *gast.Link:
		p := b.inlinePos(n, line)
		kids := b.inlines(n)
		if kind, label, ok := b.reference(n, kids); ok {
			return []Inline{&LinkReference{
				Position:   p,
				Identifier: NormalizeIdentifier(label),
				Label:      label,
				Ref:        kind,
				Children:   kids,
			}}
		}
		return []Inline{&Link{Position: p, URL: string(n.Destination), Title: string(n.Title), Children: kids}}
	case *gast.Image:
		p := b.inlinePos(n, line)
		kids := b.inlines(n)
		if kind, label, ok := b.reference(n, kids); ok {
			return []Inline{&ImageReference{
				Position:   p,
				Identifier: NormalizeIdentifier(label),
				Label:      label,
				Ref:        kind,
				Children:   kids,
			}}
		}
		return []Inline{&Image{Position: p, URL: string(n.Destination), Title: string(n.Title), Children: kids}}
	case *east.TaskCheckBox:
		return []Inline{&Checkbox{Position: Position{Line: line}, Checked: n.IsChecked}}
	default:
		var out []Inline
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			out = append(out, b.inline(c, line)...)
		}
		return out
	}
}

// reference inspects the source right after the link text to tell an
// inline link from the three reference forms. goldmark resolves references
// into plain links, so the syntax is only visible in the source.
func (b *builder) reference(n gast.Node, kids []Inline) (RefKind, string, bool) {
	i, ok := b.labelClose(n)
	if !ok {
		return 0, "", false
	}
	i++ // past ']'
	if i >= len(b.src) {
		return RefShortcut, stringifyInlines(kids), true
	}
	switch b.src[i] {
	case '(':
		return 0, "", false
	case '[':
		end := bytes.IndexByte(b.src[i+1:], ']')
		if end < 0 {
			return RefShortcut, stringifyInlines(kids), true
		}
		label := string(b.src[i+1 : i+1+end])
		if strings.TrimSpace(label) == "" {
			return RefCollapsed, stringifyInlines(kids), true
		}
		return RefFull, label, true
	default:
		return RefShortcut, stringifyInlines(kids), true
	}
}

// labelClose returns the offset of the ']' that closes the text of a link
// or image.
func (b *builder) labelClose(n gast.Node) (int, bool) {
	i, ok := b.contentEnd(n)
	if !ok {
		return 0, false
	}
	for i < len(b.src) && b.src[i] != ']' {
		i++
	}
	return i, true
}

// contentEnd returns an offset inside the text of n that lies past the
// syntax of its last positioned child. Nested links and images are skipped
// as a whole so their own brackets are never taken for n's.
func (b *builder) contentEnd(n gast.Node) (int, bool) {
	for c := n.LastChild(); c != nil; c = c.PreviousSibling() {
		switch c := c.(type) {
		case *gast.Text:
			return c.Segment.Stop, true
		case *gast.Link, *gast.Image:
			return b.syntaxEnd(c)
		default:
			if i, ok := b.contentEnd(c); ok {
				return i, true
			}
		}
	}
	return 0, false
}

// syntaxEnd returns the offset just past a whole link or image: its text,
// then an inline destination, a reference label or nothing.
func (b *builder) syntaxEnd(n gast.Node) (int, bool) {
	i, ok := b.labelClose(n)
	if !ok {
		return 0, false
	}
	i++
	if i >= len(b.src) {
		return len(b.src), true
	}
	switch b.src[i] {
	case '(':
		depth := 0
		for ; i < len(b.src); i++ {
			switch b.src[i] {
			case '\\':
				i++
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
		}
		return len(b.src), true
	case '[':
		end := bytes.IndexByte(b.src[i+1:], ']')
		if end < 0 {
			return len(b.src), true
		}
		return i + 1 + end + 1, true
	default:
		return i, true
	}
}

func firstText(n gast.Node) (*gast.Text, bool) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*gast.Text); ok {
			return t, true
		}
		if t, ok := firstText(c); ok {
			return t, true
		}
	}
	return nil, false
}

// mergeText joins adjacent Text nodes; goldmark splits text at every
// delimiter it considered.
func mergeText(in []Inline) []Inline {
	out := in[:0]
	for _, n := range in {
		if t, ok := n.(*Text); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(*Text); ok {
				out[len(out)-1] = &Text{Position: prev.Position, Value: prev.Value + t.Value}
				continue
			}
		}
		out = append(out, n)
	}
	return out
}
