// Package backlog implements remote.Store over the Backlog API v2.
package backlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/juju/ratelimit"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/remote"
)

// Credentials authenticate requests. An API key wins over an access token.
type Credentials struct {
	APIKey      string
	AccessToken string
}

// Client talks to one Backlog space.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	bucket  *ratelimit.Bucket
	logger  *slog.Logger
}

var _ remote.Store = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, normally https://{host}/api/v2.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit paces requests with a token bucket of the given rate and
// burst. A non-positive rate disables pacing.
func WithRateLimit(perSecond float64, burst int64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.bucket = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.bucket = ratelimit.NewBucketWithRate(perSecond, burst)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the space at host.
func New(host string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: "https://" + host + "/api/v2",
		creds:   creds,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	Status   int
	Method   string
	Path     string
	Messages []string
}

func (e *APIError) Error() string {
	msg := http.StatusText(e.Status)
	if len(e.Messages) > 0 {
		msg = strings.Join(e.Messages, "; ")
	}
	return fmt.Sprintf("backlog: %s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// Is makes a 404 match apperr.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == apperr.ErrNotFound && e.Status == http.StatusNotFound
}

type errorBody struct {
	Errors []struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"errors"`
}

func (c *Client) wait(ctx context.Context) error {
	if c.bucket == nil {
		return nil
	}
	d := c.bucket.Take(1)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do sends a request and returns the response when the status is 2xx. The
// caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	if c.creds.APIKey != "" {
		query.Set("apiKey", c.creds.APIKey)
	}
	u := c.baseURL + path
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("backlog: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.creds.APIKey == "" && c.creds.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backlog: %s %s: %w", method, path, err)
	}
	c.logger.Debug("backlog request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if sonic.Unmarshal(data, &eb) == nil {
		for _, e := range eb.Errors {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
	}
	return nil, apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) sendForm(ctx context.Context, method, path string, form url.Values, out any) error {
	resp, err := c.do(ctx, method, path, nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backlog: read response: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backlog: decode response: %w", err)
	}
	return nil
}

type projectJSON struct {
	ID                 int64  `json:"id"`
	ProjectKey         string `json:"projectKey"`
	Name               string `json:"name"`
	TextFormattingRule string `json:"textFormattingRule"`
}

type attachmentJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type issueJSON struct {
	ID          int64            `json:"id"`
	IssueKey    string           `json:"issueKey"`
	Summary     string           `json:"summary"`
	Description string           `json:"description"`
	Updated     time.Time        `json:"updated"`
	Attachments []attachmentJSON `json:"attachments"`
}

type namedJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

func (i issueJSON) document() remote.Document {
	d := remote.Document{
		ID:      i.IssueKey,
		Title:   i.Summary,
		Body:    i.Description,
		Updated: i.Updated,
	}
	for _, a := range i.Attachments {
		d.Attachments = append(d.Attachments, models.RemoteAttachment{ID: id(a.ID), Name: a.Name, Size: a.Size})
	}
	return d
}

// FindProject looks a project up by key.
func (c *Client) FindProject(ctx context.Context, key string) (*remote.Project, error) {
	var p projectJSON
	if err := c.getJSON(ctx, "/projects/"+url.PathEscape(key), nil, &p); err != nil {
		return nil, err
	}
	return &remote.Project{
		ID:                 id(p.ID),
		Key:                p.ProjectKey,
		Name:               p.Name,
		TextFormattingRule: p.TextFormattingRule,
	}, nil
}

// ListDocuments returns one page of issues in creation order.
func (c *Client) ListDocuments(ctx context.Context, projectID string, offset, count int) ([]remote.Document, error) {
	q := url.Values{}
	q.Add("projectId[]", projectID)
	q.Set("sort", "created")
	q.Set("order", "asc")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("count", strconv.Itoa(count))
	var issues []issueJSON
	if err := c.getJSON(ctx, "/issues", q, &issues); err != nil {
		return nil, err
	}
	out := make([]remote.Document, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.document())
	}
	return out, nil
}

// GetDocument fetches one issue by key.
func (c *Client) GetDocument(ctx context.Context, key string) (*remote.Document, error) {
	var i issueJSON
	if err := c.getJSON(ctx, "/issues/"+url.PathEscape(key), nil, &i); err != nil {
		return nil, err
	}
	d := i.document()
	return &d, nil
}

// CreateDocument creates an issue.
func (c *Client) CreateDocument(ctx context.Context, in remote.CreateInput) (*remote.Document, error) {
	form := url.Values{}
	form.Set("projectId", in.ProjectID)
	form.Set("summary", in.Title)
	form.Set("description", in.Body)
	form.Set("priorityId", in.PriorityID)
	form.Set("issueTypeId", in.TypeID)
	for _, a := range in.AttachmentIDs {
		form.Add("attachmentId[]", a)
	}
	var i issueJSON
	if err := c.sendForm(ctx, http.MethodPost, "/issues", form, &i); err != nil {
		return nil, err
	}
	d := i.document()
	return &d, nil
}

// PatchDocument updates an issue's summary and description and binds
// newly uploaded attachments.
func (c *Client) PatchDocument(ctx context.Context, in remote.PatchInput) (*remote.Document, error) {
	form := url.Values{}
	form.Set("summary", in.Title)
	form.Set("description", in.Body)
	for _, a := range in.AttachmentIDs {
		form.Add("attachmentId[]", a)
	}
	var i issueJSON
	if err := c.sendForm(ctx, http.MethodPatch, "/issues/"+url.PathEscape(in.ID), form, &i); err != nil {
		return nil, err
	}
	d := i.document()
	return &d, nil
}

// UploadAttachment stores a file in the space and returns its id for
// binding to an issue.
func (c *Client) UploadAttachment(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("backlog: multipart: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("backlog: multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("backlog: multipart: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/space/attachment", nil, &buf, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	var a attachmentJSON
	if err := decode(resp, &a); err != nil {
		return "", err
	}
	return id(a.ID), nil
}

// DeleteAttachment removes an attachment from an issue.
func (c *Client) DeleteAttachment(ctx context.Context, key, attachmentID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/issues/"+url.PathEscape(key)+"/attachments/"+url.PathEscape(attachmentID), nil, nil, "")
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// DownloadAttachment streams an attachment. The file name comes from the
// Content-Disposition header when present.
func (c *Client) DownloadAttachment(ctx context.Context, key, attachmentID string) (*remote.Download, error) {
	resp, err := c.do(ctx, http.MethodGet, "/issues/"+url.PathEscape(key)+"/attachments/"+url.PathEscape(attachmentID), nil, nil, "")
	if err != nil {
		return nil, err
	}
	return &remote.Download{
		Filename: dispositionFilename(resp.Header.Get("Content-Disposition")),
		Body:     resp.Body,
	}, nil
}

// dispositionFilename extracts the file name, decoding RFC 2231 and
// percent-encoded forms. It returns "" when none is given.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	return name
}

// ListClassifications returns the space priorities and the project's issue
// types.
func (c *Client) ListClassifications(ctx context.Context, projectID string) (*remote.Classifications, error) {
	var priorities, types []namedJSON
	if err := c.getJSON(ctx, "/priorities", nil, &priorities); err != nil {
		return nil, err
	}
	if err := c.getJSON(ctx, "/projects/"+url.PathEscape(projectID)+"/issueTypes", nil, &types); err != nil {
		return nil, err
	}
	out := &remote.Classifications{}
	for _, p := range priorities {
		out.Priorities = append(out.Priorities, remote.Classification{ID: id(p.ID), Name: p.Name})
	}
	for _, t := range types {
		out.Types = append(out.Types, remote.Classification{ID: id(t.ID), Name: t.Name})
	}
	return out, nil
}
