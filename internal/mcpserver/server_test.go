package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/md2backlog/internal/storage"
	"github.com/starford/md2backlog/internal/syncer"
	"github.com/starford/md2backlog/internal/testutil"
)

func testServer(t *testing.T) (*Server, storage.Provider, *testutil.FakeStore) {
	t.Helper()
	_, store := testutil.TestWorkspace(t, map[string]string{
		"docs/plan.md": "---\ntitle: Plan\n---\n\n- step one\n",
	})
	remote := testutil.NewFakeStore("PROJ")
	j := testutil.TestJournal(t)
	cfg := syncer.Settings{
		Host:          "example.backlog.com",
		ProjectKey:    "PROJ",
		LocalDir:      "docs",
		AttachmentDir: "docs/attachments",
	}
	srv := New(store, func() Syncer { return syncer.New(cfg, store, remote, syncer.WithJournal(j)) }, "test")
	return srv, store, remote
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "put_document":
		result, err = srv.putDocument(ctx, req)
	case "fetch_documents":
		result, err = srv.fetchDocuments(ctx, req)
	case "fetch_document":
		result, err = srv.fetchDocument(ctx, req)
	case "sync_status":
		result, err = srv.syncStatus(ctx, req)
	case "read_document":
		result, err = srv.readDocument(ctx, req)
	case "get_document_contract":
		result, err = srv.getDocumentContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestPutDocument(t *testing.T) {
	srv, store, remote := testServer(t)

	r := callTool(t, srv, "put_document", map[string]interface{}{"path": "docs/plan.md"})
	if r.IsError {
		t.Fatalf("put failed: %s", resultText(r))
	}
	if text := resultText(r); !strings.Contains(text, `"status": "created"`) {
		t.Errorf("put result = %s", text)
	}
	if _, ok := remote.Document("PROJ-1"); !ok {
		t.Error("document not created remotely")
	}
	data, _ := store.Read("docs/plan.md")
	if !strings.Contains(string(data), "docId: PROJ-1") {
		t.Errorf("header not updated:\n%s", data)
	}
}

func TestPutDocument_DryRun(t *testing.T) {
	srv, _, remote := testServer(t)
	r := callTool(t, srv, "put_document", map[string]interface{}{"path": "docs/plan.md", "dry_run": true})
	if r.IsError {
		t.Fatalf("put failed: %s", resultText(r))
	}
	if text := resultText(r); !strings.Contains(text, `"status": "dry-run"`) || !strings.Contains(text, "* step one") {
		t.Errorf("dry run result = %s", text)
	}
	if remote.Writes() != 0 {
		t.Errorf("remote writes = %d, want 0", remote.Writes())
	}
}

func TestPutDocumentMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "put_document", map[string]interface{}{"path": "docs/nope.md"})
	if !r.IsError {
		t.Error("expected error for missing document")
	}
}

func TestFetchDocuments(t *testing.T) {
	srv, store, remote := testServer(t)
	remote.Seed("Remote doc", "hello\n", nil)

	r := callTool(t, srv, "fetch_documents", map[string]interface{}{"create_index": true})
	if r.IsError {
		t.Fatalf("fetch failed: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "PROJ-1 docs/proj-1-remote-doc.md") || !strings.Contains(text, "index docs/index.md") {
		t.Errorf("fetch result = %q", text)
	}
	if _, err := store.Read("docs/proj-1-remote-doc.md"); err != nil {
		t.Errorf("fetched file missing: %v", err)
	}
}

func TestFetchDocumentInvalidRef(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "fetch_document", map[string]interface{}{"ref": "https://elsewhere/view/X-1"})
	if !r.IsError {
		t.Error("expected error for a reference outside the project")
	}
}

func TestSyncStatus(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "sync_status", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("status failed: %s", resultText(r))
	}
	if text := resultText(r); !strings.Contains(text, `"state": "new"`) {
		t.Errorf("status = %s", text)
	}
}

func TestReadDocumentMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "read_document", map[string]interface{}{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing document")
	}
}

func TestGetDocumentContract(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_document_contract", nil)
	if !strings.Contains(resultText(r), "title") {
		t.Error("contract text missing")
	}
}

func TestToolsList(t *testing.T) {
	srv, _, _ := testServer(t)
	resp := srv.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	out, err := sonic.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, name := range []string{"put_document", "fetch_documents", "fetch_document", "sync_status", "read_document", "get_document_contract"} {
		if !strings.Contains(string(out), `"`+name+`"`) {
			t.Errorf("tools/list missing %s: %s", name, out)
		}
	}
}
