// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes md2backlog sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/md2backlog/internal/models"
	"github.com/starford/md2backlog/internal/storage"
	"github.com/starford/md2backlog/internal/syncer"
)

const formatURI = "md2backlog://document-format"

// Syncer is the session surface the tools call.
type Syncer interface {
	Put(ctx context.Context, path string, opts syncer.PutOptions) (*syncer.PutResult, error)
	FetchAll(ctx context.Context, opts syncer.FetchOptions) (*syncer.FetchResult, error)
	FetchOne(ctx context.Context, ref string) (*models.Document, error)
	Status() ([]syncer.DocumentStatus, error)
}

// Factory returns a fresh session per tool call.
type Factory func() Syncer

// Server wraps the MCP server with md2backlog tools. Tool calls that touch
// the remote project run one at a time.
type Server struct {
	mcp        *server.MCPServer
	store      storage.Provider
	newSession Factory

	mu sync.Mutex
}

// New creates a new MCP server with all tools registered.
func New(store storage.Provider, newSession Factory, version string) *Server {
	s := &Server{store: store, newSession: newSession}

	s.mcp = server.NewMCPServer(
		"md2backlog",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("put_document",
		mcp.WithDescription("Create or update the Backlog issue mirrored by a local Markdown document. "+
			"Read the contract first via get_document_contract or the "+formatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative path of the document (e.g. docs/plan.md)")),
		mcp.WithBoolean("dry_run", mcp.Description("Report the converted body, attachment plan and diff without writing anything")),
	), s.putDocument)

	s.mcp.AddTool(mcp.NewTool("fetch_documents",
		mcp.WithDescription("Write every issue of the project to the local collection."),
		mcp.WithBoolean("create_index", mcp.Description("Also regenerate the index document")),
	), s.fetchDocuments)

	s.mcp.AddTool(mcp.NewTool("fetch_document",
		mcp.WithDescription("Write one issue to the local collection."),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Issue key (PROJ-12), /view/PROJ-12 or the full view URL")),
	), s.fetchDocument)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("List local documents with their sync state: new, synced, modified or untracked."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a local document including its header."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative path of the document")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the local document format contract. "+
			"Call this before writing documents that will be put."),
	), s.getDocumentContract)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Document Format Contract",
			mcp.WithResourceDescription("Local Markdown document format understood by md2backlog."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// Serve runs the stdio transport over in and out until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) putDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := syncer.PutOptions{DryRun: req.GetBool("dry_run", false)}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.newSession().Put(ctx, path, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) fetchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := syncer.FetchOptions{CreateIndex: req.GetBool("create_index", false)}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.newSession().FetchAll(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths := make([]string, 0, len(res.Documents))
	for _, d := range res.Documents {
		paths = append(paths, d.ID+" "+d.SourcePath)
	}
	if res.IndexPath != "" {
		paths = append(paths, "index "+res.IndexPath)
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no documents"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) fetchDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.newSession().FetchOne(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("fetched: %s %s", doc.ID, doc.SourcePath)), nil
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.newSession().Status()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getDocumentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
