package markdown

import "fmt"

// Inspect walks the tree in document order. Returning false from fn skips
// the children of that node.
func Inspect(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Root:
		inspectBlocks(n.Children, fn)
	case *Paragraph:
		inspectInlines(n.Children, fn)
	case *Heading:
		inspectInlines(n.Children, fn)
	case *Blockquote:
		inspectBlocks(n.Children, fn)
	case *List:
		for _, item := range n.Items {
			Inspect(item, fn)
		}
	case *ListItem:
		inspectBlocks(n.Children, fn)
	case *Table:
		for _, row := range n.Rows {
			for _, cell := range row {
				inspectInlines(cell.Children, fn)
			}
		}
	case *Emphasis:
		inspectInlines(n.Children, fn)
	case *Strong:
		inspectInlines(n.Children, fn)
	case *Delete:
		inspectInlines(n.Children, fn)
	case *Link:
		inspectInlines(n.Children, fn)
	case *LinkReference:
		inspectInlines(n.Children, fn)
	case *Image:
		inspectInlines(n.Children, fn)
	case *ImageReference:
		inspectInlines(n.Children, fn)
	case *ThematicBreak, *Code, *HTML, *Definition,
		*Text, *Break, *InlineCode, *InlineHTML, *Checkbox:
	default:
		panic(fmt.Sprintf("markdown: unknown node %T", n))
	}
}

func inspectBlocks(bs []Block, fn func(Node) bool) {
	for _, b := range bs {
		Inspect(b, fn)
	}
}

func inspectInlines(is []Inline, fn func(Node) bool) {
	for _, i := range is {
		Inspect(i, fn)
	}
}

// Rewriter holds the callbacks for Transform. Either may be nil.
//
// Block receives a private copy of each block whose children have already
// been rewritten, and returns its replacement: nil removes the block, more
// than one splices them in. Inline does the same for a single inline node.
type Rewriter struct {
	Block  func(Block) []Block
	Inline func(Inline) Inline
}

// Transform returns a rewritten copy of root, bottom-up. The input tree is
// never modified, so callers may keep using it.
func Transform(root *Root, rw Rewriter) *Root {
	return &Root{Children: rw.blocks(root.Children)}
}

func (rw Rewriter) blocks(in []Block) []Block {
	out := make([]Block, 0, len(in))
	for _, b := range in {
		c := rw.copyBlock(b)
		if rw.Block == nil {
			out = append(out, c)
			continue
		}
		out = append(out, rw.Block(c)...)
	}
	return out
}

func (rw Rewriter) inlines(in []Inline) []Inline {
	out := make([]Inline, 0, len(in))
	for _, n := range in {
		c := rw.copyInline(n)
		if rw.Inline != nil {
			c = rw.Inline(c)
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (rw Rewriter) copyBlock(b Block) Block {
	switch b := b.(type) {
	case *Paragraph:
		c := *b
		c.Children = rw.inlines(b.Children)
		return &c
	case *Heading:
		c := *b
		c.Children = rw.inlines(b.Children)
		return &c
	case *ThematicBreak:
		c := *b
		return &c
	case *Blockquote:
		c := *b
		c.Children = rw.blocks(b.Children)
		return &c
	case *List:
		c := *b
		c.Items = make([]*ListItem, len(b.Items))
		for i, item := range b.Items {
			c.Items[i] = &ListItem{Position: item.Position, Children: rw.blocks(item.Children)}
		}
		return &c
	case *Code:
		c := *b
		return &c
	case *HTML:
		c := *b
		return &c
	case *Definition:
		c := *b
		return &c
	case *Table:
		c := *b
		c.Align = append([]Align(nil), b.Align...)
		c.Rows = make([]TableRow, len(b.Rows))
		for i, row := range b.Rows {
			r := make(TableRow, len(row))
			for j, cell := range row {
				r[j] = TableCell{Children: rw.inlines(cell.Children)}
			}
			c.Rows[i] = r
		}
		return &c
	default:
		panic(fmt.Sprintf("markdown: unknown block %T", b))
	}
}

func (rw Rewriter) copyInline(n Inline) Inline {
	switch n := n.(type) {
	case *Text:
		c := *n
		return &c
	case *Break:
		c := *n
		return &c
	case *Emphasis:
		c := *n
		c.Children = rw.inlines(n.Children)
		return &c
	case *Strong:
		c := *n
		c.Children = rw.inlines(n.Children)
		return &c
	case *Delete:
		c := *n
		c.Children = rw.inlines(n.Children)
		return &c
	case *InlineCode:
		c := *n
		return &c
	case *InlineHTML:
		c := *n
		return &c
	case *Link:
		c := *n
		c.Children = rw.inlines(n.Children)
		return &c
	case *LinkReference:
		c := *n
		c.Children = rw.inlines(n.Children)
		return &c
	case *Image:
		c := *n
		c.Children = rw.inlines(n.Children)
		return &c
	case *ImageReference:
		c := *n
		c.Children = rw.inlines(n.Children)
		return &c
	case *Checkbox:
		c := *n
		return &c
	default:
		panic(fmt.Sprintf("markdown: unknown inline %T", n))
	}
}
