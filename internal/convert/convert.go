// Package convert rewrites document bodies between the local Markdown
// dialect and the remote tracker's dialect.
//
// Locally, images and cross-document links point at files relative to the
// document. Remotely, attachments are shown only through an image
// reference plus definition, the definition itself is never stored, and
// links to other documents use the target's issue key.
package convert

import (
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/docindex"
	"github.com/starford/md2backlog/internal/header"
	"github.com/starford/md2backlog/internal/markdown"
	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/storage"
)

// Converter holds what both directions need to resolve paths and ids.
type Converter struct {
	store         storage.Provider
	index         *docindex.Index
	localDir      string
	attachmentDir string
	refPattern    *regexp.Regexp
}

// New creates a converter for documents of projectKey on host.
func New(store storage.Provider, index *docindex.Index, host, projectKey, localDir, attachmentDir string) *Converter {
	return &Converter{
		store:         store,
		index:         index,
		localDir:      localDir,
		attachmentDir: attachmentDir,
		refPattern:    ReferencePattern(host, projectKey),
	}
}

// ReferencePattern matches a link back into the project: the bare key
// (KEY-12), the view path (/view/KEY-12) or the full URL. The key is
// capture group 3.
func ReferencePattern(host, projectKey string) *regexp.Regexp {
	return regexp.MustCompile(`^(https://` + regexp.QuoteMeta(host) + `)?(/view/)?(` + regexp.QuoteMeta(projectKey) + `-[0-9]+)$`)
}

// MatchReference returns the document id referenced by target.
func (c *Converter) MatchReference(target string) (string, bool) {
	m := c.refPattern.FindStringSubmatch(target)
	if m == nil {
		return "", false
	}
	return m[3], true
}

// Result is the remote form of a document body.
type Result struct {
	Content     string
	Attachments []models.Attachment
}

var schemeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)

// IsURL reports whether target is absolute: it has a scheme or is
// protocol-relative.
func IsURL(target string) bool {
	return schemeRe.MatchString(target) || strings.HasPrefix(target, "//")
}

// ToRemote converts the body of the document at source. headerLines is the
// number of lines the header occupied above the body and only shifts the
// line numbers reported in errors.
func (c *Converter) ToRemote(source, body string, headerLines int) (*Result, error) {
	root := markdown.Parse(body)
	baseDir := path.Dir(source)

	// Definitions first: an image whose file is already attached through a
	// definition must reuse that definition instead of attaching twice.
	captured := make(map[string]*markdown.Definition) // definition URL -> definition
	attachedDefs := make(map[*markdown.Definition]models.Attachment)
	markdown.Inspect(root, func(n markdown.Node) bool {
		def, ok := n.(*markdown.Definition)
		if !ok || IsURL(def.URL) {
			return true
		}
		p, size, ok := c.localFile(baseDir, def.URL)
		if !ok {
			return true
		}
		attachedDefs[def] = models.Attachment{
			Identifier: def.Identifier,
			Label:      def.Label,
			URL:        def.URL,
			Path:       p,
			Size:       size,
		}
		if _, dup := captured[def.URL]; !dup {
			captured[def.URL] = def
		}
		return true
	})

	// Walk in document order to list attachments and plan image rewrites.
	var attachments []models.Attachment
	imageRefs := make(map[string]*markdown.ImageReference) // image URL -> replacement
	markdown.Inspect(root, func(n markdown.Node) bool {
		switch n := n.(type) {
		case *markdown.Definition:
			if a, ok := attachedDefs[n]; ok {
				attachments = append(attachments, a)
			}
		case *markdown.Image:
			if IsURL(n.URL) {
				return true
			}
			if _, seen := imageRefs[n.URL]; seen {
				return true
			}
			if def, ok := captured[n.URL]; ok {
				imageRefs[n.URL] = &markdown.ImageReference{Identifier: def.Identifier, Label: def.Label, Ref: markdown.RefFull}
				return true
			}
			p, size, ok := c.localFile(baseDir, n.URL)
			if !ok {
				return true
			}
			imageRefs[n.URL] = &markdown.ImageReference{Identifier: n.URL, Label: n.URL, Ref: markdown.RefFull}
			attachments = append(attachments, models.Attachment{
				Identifier: n.URL,
				Label:      n.URL,
				URL:        n.URL,
				Path:       p,
				Size:       size,
			})
		}
		return true
	})

	var linkErr error
	out := markdown.Transform(root, markdown.Rewriter{
		Block: func(b markdown.Block) []markdown.Block {
			if def, ok := b.(*markdown.Definition); ok && !IsURL(def.URL) {
				if _, err := c.fileSize(baseDir, def.URL); err == nil {
					return nil
				}
			}
			return []markdown.Block{b}
		},
		Inline: func(n markdown.Inline) markdown.Inline {
			switch n := n.(type) {
			case *markdown.Image:
				ref, ok := imageRefs[n.URL]
				if !ok {
					return n
				}
				return &markdown.ImageReference{
					Position:   n.Position,
					Identifier: ref.Identifier,
					Label:      ref.Label,
					Ref:        ref.Ref,
					Children:   n.Children,
				}
			case *markdown.Link:
				if linkErr != nil || !c.isLocalLink(n) {
					return n
				}
				id, err := c.linkTarget(baseDir, n.URL)
				if err != nil {
					linkErr = &apperr.BrokenCrossReferenceError{
						Source: source,
						Target: n.URL,
						Line:   n.Line + headerLines,
						Err:    err,
					}
					return n
				}
				n.URL = id
				return n
			}
			return n
		},
	})
	if linkErr != nil {
		return nil, linkErr
	}

	return &Result{Content: markdown.Stringify(out), Attachments: attachments}, nil
}

// isLocalLink reports whether a link points at another local document.
// Absolute URLs, autolinks, in-page anchors and links already written as a
// project key are left alone.
func (c *Converter) isLocalLink(l *markdown.Link) bool {
	if l.Autolink || l.URL == "" || strings.HasPrefix(l.URL, "#") || IsURL(l.URL) {
		return false
	}
	_, isKey := c.MatchReference(l.URL)
	return !isKey
}

// linkTarget reads the header of the linked document and returns its id.
func (c *Converter) linkTarget(baseDir, target string) (string, error) {
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	var lastErr error
	for _, p := range c.candidates(baseDir, target) {
		h, err := header.ScanFile(c.store, p)
		if err != nil {
			lastErr = err
			continue
		}
		if h.ID() == "" {
			return "", fmt.Errorf("%s has no %s yet", p, header.KeyID)
		}
		return h.ID(), nil
	}
	if lastErr == nil {
		lastErr = fs.ErrNotExist
	}
	return "", lastErr
}

// candidates lists the workspace paths target may name: as written and
// percent-decoded. A leading slash means the workspace root.
func (c *Converter) candidates(baseDir, target string) []string {
	raw := []string{target}
	if dec, err := url.PathUnescape(target); err == nil && dec != target {
		raw = append(raw, dec)
	}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if strings.HasPrefix(t, "/") {
			out = append(out, path.Clean(strings.TrimPrefix(t, "/")))
		} else {
			out = append(out, path.Join(baseDir, t))
		}
	}
	return out
}

func (c *Converter) fileSize(baseDir, target string) (int64, error) {
	_, size, ok := c.localFile(baseDir, target)
	if !ok {
		return 0, fs.ErrNotExist
	}
	return size, nil
}

// localFile resolves target to an existing regular file.
func (c *Converter) localFile(baseDir, target string) (string, int64, bool) {
	for _, p := range c.candidates(baseDir, target) {
		info, err := c.store.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		return p, info.Size(), true
	}
	return "", 0, false
}

// ToLocal converts a remote body for the document stored at localPath.
// Attachments become definitions pointing into the attachment directory,
// and links into the project become relative paths to the local files.
// When there is nothing to add or rewrite the body is returned unchanged.
func (c *Converter) ToLocal(body string, attachments []models.RemoteAttachment, localPath string) (string, error) {
	root := markdown.Parse(body)
	docDir := path.Dir(localPath)

	changed := len(attachments) > 0
	if changed {
		rel, err := relPath(docDir, c.attachmentDir)
		if err != nil {
			return "", err
		}
		for _, a := range attachments {
			root.Children = append(root.Children, &markdown.Definition{
				Identifier: markdown.NormalizeIdentifier(a.Name),
				Label:      a.Name,
				URL:        path.Join(rel, a.Name),
			})
		}
	}

	var resolveErr error
	rewrite := func(target, title string) (string, bool) {
		id, ok := c.MatchReference(target)
		if !ok || resolveErr != nil {
			return "", false
		}
		p, err := c.index.Resolve(id, title, c.localDir)
		if err != nil {
			resolveErr = err
			return "", false
		}
		rel, err := relPath(docDir, p)
		if err != nil {
			resolveErr = err
			return "", false
		}
		changed = true
		return rel, true
	}

	out := markdown.Transform(root, markdown.Rewriter{
		Block: func(b markdown.Block) []markdown.Block {
			if def, ok := b.(*markdown.Definition); ok {
				if rel, ok := rewrite(def.URL, def.Label); ok {
					def.URL = rel
				}
			}
			return []markdown.Block{b}
		},
		Inline: func(n markdown.Inline) markdown.Inline {
			l, ok := n.(*markdown.Link)
			if !ok {
				return n
			}
			if rel, ok := rewrite(l.URL, plainText(l.Children)); ok {
				l.URL = rel
				l.Autolink = false
			}
			return l
		},
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	if !changed {
		return body, nil
	}
	return markdown.Stringify(out), nil
}

// relPath returns target relative to dir with forward slashes.
func relPath(dir, target string) (string, error) {
	rel, err := filepath.Rel(filepath.FromSlash(dir), filepath.FromSlash(target))
	if err != nil {
		return "", fmt.Errorf("convert: relative path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// plainText flattens inline content to its visible text.
func plainText(nodes []markdown.Inline) string {
	var sb strings.Builder
	for _, n := range nodes {
		markdown.Inspect(n, func(n markdown.Node) bool {
			switch n := n.(type) {
			case *markdown.Text:
				sb.WriteString(n.Value)
			case *markdown.InlineCode:
				sb.WriteString(n.Value)
			case *markdown.Break:
				sb.WriteString(" ")
			}
			return true
		})
	}
	return sb.String()
}
