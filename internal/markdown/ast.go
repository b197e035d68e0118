// Package markdown provides a closed Markdown syntax tree, a parser built on
// goldmark, and a canonical stringifier.
//
// Every node kind is a concrete struct. Block and Inline are sealed: only
// this package can add node kinds, so a type switch over them is the full
// set of cases.
package markdown

// Position locates a node in the parsed text. Line is 1-based; 0 means
// unknown.
type Position struct {
	Line int
}

// Pos returns the position.
func (p Position) Pos() Position { return p }

// Node is any tree node.
type Node interface {
	Pos() Position
	node()
}

// Block is a block-level node.
type Block interface {
	Node
	block()
}

// Inline is a span-level node.
type Inline interface {
	Node
	inline()
}

// Root is the document node.
type Root struct {
	Children []Block
}

func (*Root) Pos() Position { return Position{Line: 1} }
func (*Root) node()         {}

type Paragraph struct {
	Position
	Children []Inline
}

type Heading struct {
	Position
	Level    int
	Children []Inline
}

type ThematicBreak struct {
	Position
}

type Blockquote struct {
	Position
	Children []Block
}

type List struct {
	Position
	Ordered bool
	Start   int
	Tight   bool
	Items   []*ListItem
}

// ListItem is owned by a List and is neither a Block nor an Inline.
type ListItem struct {
	Position
	Children []Block
}

func (*ListItem) node() {}

// Code is a code block. Lang holds the full info string.
type Code struct {
	Position
	Lang  string
	Value string
}

// HTML is a raw HTML block.
type HTML struct {
	Position
	Value string
}

// Definition is a link reference definition: [label]: url "title".
type Definition struct {
	Position
	Identifier string
	Label      string
	URL        string
	Title      string
}

// Align is a table column alignment.
type Align int

const (
	AlignNone Align = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// TableCell holds the inline content of one cell.
type TableCell struct {
	Children []Inline
}

// TableRow is one row of cells.
type TableRow []TableCell

// Table is a GFM pipe table. Rows[0] is the header row.
type Table struct {
	Position
	Align []Align
	Rows  []TableRow
}

// Text is literal text kept exactly as written, escapes included.
type Text struct {
	Position
	Value string
}

// Break is a line break inside a paragraph. A soft break is a plain newline.
type Break struct {
	Position
	Hard bool
}

type Emphasis struct {
	Position
	Children []Inline
}

type Strong struct {
	Position
	Children []Inline
}

// Delete is GFM strikethrough.
type Delete struct {
	Position
	Children []Inline
}

type InlineCode struct {
	Position
	Value string
}

type InlineHTML struct {
	Position
	Value string
}

// Link is an inline link, or an autolink when Autolink is set.
type Link struct {
	Position
	URL      string
	Title    string
	Autolink bool
	Children []Inline
}

// RefKind distinguishes the three reference forms.
type RefKind int

const (
	RefFull      RefKind = iota // [text][label]
	RefCollapsed                // [text][]
	RefShortcut                 // [text]
)

// LinkReference is a link resolved through a Definition.
type LinkReference struct {
	Position
	Identifier string
	Label      string
	Ref        RefKind
	Children   []Inline
}

// Image is an inline image. Children hold the alt text.
type Image struct {
	Position
	URL      string
	Title    string
	Children []Inline
}

// ImageReference is an image resolved through a Definition.
type ImageReference struct {
	Position
	Identifier string
	Label      string
	Ref        RefKind
	Children   []Inline
}

// Checkbox is a GFM task list marker.
type Checkbox struct {
	Position
	Checked bool
}

func (*Paragraph) node()     {}
func (*Heading) node()       {}
func (*ThematicBreak) node() {}
func (*Blockquote) node()    {}
func (*List) node()          {}
func (*Code) node()          {}
func (*HTML) node()          {}
func (*Definition) node()    {}
func (*Table) node()         {}

func (*Paragraph) block()     {}
func (*Heading) block()       {}
func (*ThematicBreak) block() {}
func (*Blockquote) block()    {}
func (*List) block()          {}
func (*Code) block()          {}
func (*HTML) block()          {}
func (*Definition) block()    {}
func (*Table) block()         {}

func (*Text) node()           {}
func (*Break) node()          {}
func (*Emphasis) node()       {}
func (*Strong) node()         {}
func (*Delete) node()         {}
func (*InlineCode) node()     {}
func (*InlineHTML) node()     {}
func (*Link) node()           {}
func (*LinkReference) node()  {}
func (*Image) node()          {}
func (*ImageReference) node() {}
func (*Checkbox) node()       {}

func (*Text) inline()           {}
func (*Break) inline()          {}
func (*Emphasis) inline()       {}
func (*Strong) inline()         {}
func (*Delete) inline()         {}
func (*InlineCode) inline()     {}
func (*InlineHTML) inline()     {}
func (*Link) inline()           {}
func (*LinkReference) inline()  {}
func (*Image) inline()          {}
func (*ImageReference) inline() {}
func (*Checkbox) inline()       {}
