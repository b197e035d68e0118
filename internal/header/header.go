// Package header reads and writes the metadata block at the top of a local
// document: a YAML front matter mapping followed by the Markdown body.
package header

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/storage"
)

// Well-known header keys.
const (
	KeyID      = "docId"
	KeyTitle   = "title"
	KeyURL     = "url"
	KeyUpdated = "updated"
)

const delim = "---"

var yamlFormat = frontmatter.NewFormat(delim, delim, yaml.Unmarshal)

// Header is an ordered key-value mapping. Unknown keys written by the user
// survive a decode/encode cycle in their original order.
type Header struct {
	node *yaml.Node
}

// New returns an empty header.
func New() *Header {
	return &Header{node: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

func fromNode(doc *yaml.Node) (*Header, error) {
	if doc == nil || doc.Kind == 0 {
		return New(), nil
	}
	n := doc
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return New(), nil
		}
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("header: expected a mapping, got %s", kindName(n.Kind))
	}
	return &Header{node: n}, nil
}

// Get returns the scalar value stored under key, or "" when absent.
func (h *Header) Get(key string) string {
	for i := 0; i+1 < len(h.node.Content); i += 2 {
		if h.node.Content[i].Value == key {
			v := h.node.Content[i+1]
			if v.Kind == yaml.ScalarNode {
				return v.Value
			}
			return ""
		}
	}
	return ""
}

// Set stores value under key, replacing an existing entry in place or
// appending a new one.
func (h *Header) Set(key, value string) {
	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	for i := 0; i+1 < len(h.node.Content); i += 2 {
		if h.node.Content[i].Value == key {
			h.node.Content[i+1] = val
			return
		}
	}
	h.node.Content = append(h.node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
}

// Keys returns the header keys in order.
func (h *Header) Keys() []string {
	keys := make([]string, 0, len(h.node.Content)/2)
	for i := 0; i+1 < len(h.node.Content); i += 2 {
		keys = append(keys, h.node.Content[i].Value)
	}
	return keys
}

// Len is the number of entries.
func (h *Header) Len() int { return len(h.node.Content) / 2 }

func (h *Header) ID() string    { return h.Get(KeyID) }
func (h *Header) Title() string { return h.Get(KeyTitle) }
func (h *Header) URL() string   { return h.Get(KeyURL) }

// Updated parses the updated timestamp; the zero time is returned when it is
// absent or not RFC 3339.
func (h *Header) Updated() time.Time {
	t, err := time.Parse(time.RFC3339, h.Get(KeyUpdated))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Merge folds the authoritative remote fields of d into h. Other keys are
// left untouched.
func (h *Header) Merge(d models.Document) {
	h.Set(KeyID, d.ID)
	h.Set(KeyTitle, d.Title)
	if d.URL != "" {
		h.Set(KeyURL, d.URL)
	}
	if !d.UpdatedAt.IsZero() {
		h.Set(KeyUpdated, d.UpdatedAt.UTC().Format(time.RFC3339))
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := New()
	for i := 0; i+1 < len(h.node.Content); i += 2 {
		c.node.Content = append(c.node.Content, cloneNode(h.node.Content[i]), cloneNode(h.node.Content[i+1]))
	}
	return c
}

func cloneNode(n *yaml.Node) *yaml.Node {
	c := *n
	c.Content = make([]*yaml.Node, len(n.Content))
	for i, child := range n.Content {
		c.Content[i] = cloneNode(child)
	}
	return &c
}

// Parsed is a decoded local document.
type Parsed struct {
	Header *Header
	Body   string
	// Lines is the number of lines in front of the body: both delimiters,
	// the mapping itself and any blank separator lines.
	Lines int
}

// Document converts the parsed file at path into the domain type.
func (p *Parsed) Document(path string) models.Document {
	return models.Document{
		ID:         p.Header.ID(),
		Title:      p.Header.Title(),
		URL:        p.Header.URL(),
		UpdatedAt:  p.Header.Updated(),
		SourcePath: path,
		Body:       p.Body,
	}
}

// Decode splits raw into header and body. A missing title is a
// MalformedDocumentError.
func Decode(raw []byte) (*Parsed, error) {
	var doc yaml.Node
	rest, err := frontmatter.Parse(bytes.NewReader(raw), &doc, yamlFormat)
	if err != nil {
		return nil, fmt.Errorf("header: decode: %w", err)
	}
	h, err := fromNode(&doc)
	if err != nil {
		return nil, err
	}
	if h.Title() == "" {
		return nil, &apperr.MalformedDocumentError{Field: KeyTitle}
	}

	consumed := 0
	if bytes.HasSuffix(raw, rest) {
		consumed = len(raw) - len(rest)
	}
	trimmed := bytes.TrimLeft(rest, "\r\n")
	consumed += len(rest) - len(trimmed)

	return &Parsed{
		Header: h,
		Body:   string(trimmed),
		Lines:  bytes.Count(raw[:consumed], []byte("\n")),
	}, nil
}

// Encode renders the header block followed by a blank line and body.
func Encode(h *Header, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	if h.Len() > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(h.node); err != nil {
			return nil, fmt.Errorf("header: encode: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("header: encode: %w", err)
		}
	}
	buf.WriteString(delim + "\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// Scan reads only the header block from r, stopping at the closing
// delimiter so the body is never loaded.
func Scan(r io.Reader) (*Header, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	opened := false
	var block strings.Builder
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !opened {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line != delim {
				break
			}
			opened = true
			continue
		}
		if line == delim {
			var doc yaml.Node
			if err := yaml.Unmarshal([]byte(block.String()), &doc); err != nil {
				return nil, fmt.Errorf("header: scan: %w", err)
			}
			h, err := fromNode(&doc)
			if err != nil {
				return nil, err
			}
			if h.Title() == "" {
				return nil, &apperr.MalformedDocumentError{Field: KeyTitle}
			}
			return h, nil
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("header: scan: %w", err)
	}
	return nil, &apperr.MalformedDocumentError{Field: KeyTitle}
}

// Load reads and decodes the document stored at path.
func Load(p storage.Provider, path string) (*Parsed, error) {
	raw, err := p.Read(path)
	if err != nil {
		return nil, err
	}
	parsed, err := Decode(raw)
	if err != nil {
		return nil, withPath(err, path)
	}
	return parsed, nil
}

// ScanFile reads the header of the document stored at path.
func ScanFile(p storage.Provider, path string) (*Header, error) {
	rc, err := p.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	h, err := Scan(rc)
	if err != nil {
		return nil, withPath(err, path)
	}
	return h, nil
}

func withPath(err error, path string) error {
	if me, ok := err.(*apperr.MalformedDocumentError); ok {
		return &apperr.MalformedDocumentError{Path: path, Field: me.Field}
	}
	return fmt.Errorf("%s: %w", path, err)
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
