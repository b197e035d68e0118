package markdown

import (
	"fmt"
	"strings"
)

// Stringify renders the tree as canonical Markdown: "*" bullets,
// incrementing ordered markers, list content indented one space past the
// marker, fenced code blocks, ATX headings and "---" breaks. The output
// ends with a single newline unless the tree is empty.
func Stringify(root *Root) string {
	out := joinBlocks(root.Children, false)
	if out == "" {
		return ""
	}
	return out + "\n"
}

// Format pretty-prints Markdown without changing its structure.
func Format(src string) string {
	return Stringify(Parse(src))
}

func joinBlocks(blocks []Block, tight bool) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			_, prevDef := blocks[i-1].(*Definition)
			_, curDef := b.(*Definition)
			if tight || (prevDef && curDef) {
				sb.WriteString("\n")
			} else {
				sb.WriteString("\n\n")
			}
		}
		sb.WriteString(stringifyBlock(b))
	}
	return sb.String()
}

func stringifyBlock(b Block) string {
	switch b := b.(type) {
	case *Paragraph:
		return stringifyInlines(b.Children)
	case *Heading:
		// An ATX heading is one line, so the line breaks of a setext
		// heading become spaces.
		text := Rewriter{Inline: func(n Inline) Inline {
			if br, ok := n.(*Break); ok {
				return &Text{Position: br.Position, Value: " "}
			}
			return n
		}}.inlines(b.Children)
		return strings.Repeat("#", b.Level) + " " + stringifyInlines(text)
	case *ThematicBreak:
		return "---"
	case *Blockquote:
		return prefixLines(joinBlocks(b.Children, false), "> ", ">")
	case *List:
		return stringifyList(b)
	case *Code:
		return stringifyCode(b)
	case *HTML:
		return b.Value
	case *Definition:
		s := "[" + b.Label + "]: " + destination(b.URL)
		if b.Title != "" {
			s += " " + quoteTitle(b.Title)
		}
		return s
	case *Table:
		return stringifyTable(b)
	default:
		panic(fmt.Sprintf("markdown: unknown block %T", b))
	}
}

func stringifyList(l *List) string {
	var sb strings.Builder
	for i, item := range l.Items {
		if i > 0 {
			if l.Tight {
				sb.WriteString("\n")
			} else {
				sb.WriteString("\n\n")
			}
		}
		marker := "*"
		if l.Ordered {
			marker = fmt.Sprintf("%d.", l.Start+i)
		}
		content := joinBlocks(item.Children, l.Tight)
		if content == "" {
			sb.WriteString(marker)
			continue
		}
		indent := strings.Repeat(" ", len(marker)+1)
		sb.WriteString(marker + " " + indentRest(content, indent))
	}
	return sb.String()
}

// indentRest indents every line but the first; blank lines stay blank.
func indentRest(s, indent string) string {
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = indent + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func prefixLines(s, prefix, blank string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = blank
		} else {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func stringifyCode(c *Code) string {
	fence := "```"
	for strings.Contains(c.Value, fence) {
		fence += "`"
	}
	value := c.Value
	if value != "" && !strings.HasSuffix(value, "\n") {
		value += "\n"
	}
	return fence + c.Lang + "\n" + value + fence
}

func stringifyTable(t *Table) string {
	var sb strings.Builder
	for i, row := range t.Rows {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("|")
		for _, cell := range row {
			sb.WriteString(" " + stringifyInlines(cell.Children) + " |")
		}
		if i == 0 {
			sb.WriteString("\n|")
			for j := range row {
				a := AlignNone
				if j < len(t.Align) {
					a = t.Align[j]
				}
				sb.WriteString(" " + alignMarker(a) + " |")
			}
		}
	}
	return sb.String()
}

func alignMarker(a Align) string {
	switch a {
	case AlignLeft:
		return ":--"
	case AlignCenter:
		return ":-:"
	case AlignRight:
		return "--:"
	default:
		return "---"
	}
}

func stringifyInlines(nodes []Inline) string {
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(stringifyInline(n))
	}
	return sb.String()
}

func stringifyInline(n Inline) string {
	switch n := n.(type) {
	case *Text:
		return n.Value
	case *Break:
		if n.Hard {
			return "\\\n"
		}
		return "\n"
	case *Emphasis:
		return "*" + stringifyInlines(n.Children) + "*"
	case *Strong:
		return "**" + stringifyInlines(n.Children) + "**"
	case *Delete:
		return "~~" + stringifyInlines(n.Children) + "~~"
	case *InlineCode:
		return codeSpan(n.Value)
	case *InlineHTML:
		return n.Value
	case *Link:
		text := stringifyInlines(n.Children)
		if n.Autolink {
			if strings.Contains(text, "://") || strings.Contains(text, "@") {
				return "<" + text + ">"
			}
			return text
		}
		return "[" + text + "](" + destination(n.URL) + titleSuffix(n.Title) + ")"
	case *LinkReference:
		return "[" + stringifyInlines(n.Children) + "]" + refSuffix(n.Ref, n.Label)
	case *Image:
		return "![" + stringifyInlines(n.Children) + "](" + destination(n.URL) + titleSuffix(n.Title) + ")"
	case *ImageReference:
		return "![" + stringifyInlines(n.Children) + "]" + refSuffix(n.Ref, n.Label)
	case *Checkbox:
		if n.Checked {
			return "[x]"
		}
		return "[ ]"
	default:
		panic(fmt.Sprintf("markdown: unknown inline %T", n))
	}
}

func refSuffix(kind RefKind, label string) string {
	switch kind {
	case RefFull:
		return "[" + label + "]"
	case RefCollapsed:
		return "[]"
	default:
		return ""
	}
}

func codeSpan(v string) string {
	longest, run := 0, 0
	for _, r := range v {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	fence := strings.Repeat("`", longest+1)
	if strings.HasPrefix(v, "`") || strings.HasSuffix(v, "`") {
		return fence + " " + v + " " + fence
	}
	return fence + v + fence
}

// destination wraps URLs that would not survive as a bare destination.
func destination(url string) string {
	if url == "" || strings.ContainsAny(url, " <>\t") || strings.Count(url, "(") != strings.Count(url, ")") {
		return "<" + strings.NewReplacer("<", "\\<", ">", "\\>").Replace(url) + ">"
	}
	return url
}

func titleSuffix(title string) string {
	if title == "" {
		return ""
	}
	return " " + quoteTitle(title)
}

func quoteTitle(title string) string {
	return `"` + strings.ReplaceAll(title, `"`, `\"`) + `"`
}
