package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvarela/b1agent/internal/agent"
	"github.com/nvarela/b1agent/internal/cache"
	"github.com/nvarela/b1agent/internal/llm"
)

// fakeResponder echoes a canned answer and captures what it was asked.
type fakeResponder struct {
	result  *agent.Result
	err     error
	history []llm.Message
	message string
}

func (f *fakeResponder) Respond(_ context.Context, history []llm.Message, userMessage string) (*agent.Result, error) {
	f.history = history
	f.message = userMessage
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testServer struct {
	server    *Server
	responder *fakeResponder
	store     *cache.Store
	sessions  *cache.Sessions
	http      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	responder := &fakeResponder{result: &agent.Result{
		Content: "The top product is **Widget**.",
		Model:   "gemini-2.0-flash",
		Rounds:  2,
	}}
	sessions := &cache.Sessions{}
	srv := NewServer("127.0.0.1:0", responder, store, sessions, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{server: srv, responder: responder, store: store, sessions: sessions, http: ts}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestChat_Success(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/api/chat", map[string]string{"message": "best sellers?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decodeBody[chatResponse](t, resp)
	if !body.Success || body.Response != "The top product is **Widget**." {
		t.Errorf("body = %+v", body)
	}
	if body.Rounds != 2 || body.Model != "gemini-2.0-flash" {
		t.Errorf("body = %+v", body)
	}
	if body.SessionID == "" {
		t.Error("session id missing")
	}
	if ts.responder.message != "best sellers?" {
		t.Errorf("agent got message %q", ts.responder.message)
	}

	// Both turns land in the transcript.
	msgs, err := ts.store.RecentMessages(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("transcript = %+v", msgs)
	}
}

func TestChat_HistoryWindowFedToAgent(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// Seed 12 turns; only the last 10 should reach the agent.
	for i := 0; i < 6; i++ {
		ts.store.AddMessage(ctx, "user", "q")
		ts.store.AddMessage(ctx, "assistant", "a")
	}

	resp := ts.postJSON(t, "/api/chat", map[string]string{"message": "next"})
	resp.Body.Close()

	if len(ts.responder.history) != historyWindow {
		t.Errorf("history fed to agent = %d turns, want %d", len(ts.responder.history), historyWindow)
	}
}

func TestChat_Validation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/api/chat", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	raw, err := http.Post(ts.http.URL+"/api/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.StatusCode)
	}
	raw.Body.Close()
}

func TestChat_AgentFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.responder.err = errors.New("all models unavailable")

	resp := ts.postJSON(t, "/api/chat", map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestHistory_HTMLRendering(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.store.AddMessage(ctx, "user", "plain question")
	ts.store.AddMessage(ctx, "assistant", "**bold** answer")

	resp, err := http.Get(ts.http.URL + "/api/history?format=html")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[struct {
		Success  bool             `json:"success"`
		Messages []historyMessage `json:"messages"`
	}](t, resp)

	if len(body.Messages) != 2 {
		t.Fatalf("messages = %d", len(body.Messages))
	}
	if body.Messages[0].HTML != "" {
		t.Error("user turns are not rendered")
	}
	if !strings.Contains(body.Messages[1].HTML, "<strong>bold</strong>") {
		t.Errorf("assistant HTML = %q", body.Messages[1].HTML)
	}

	// Without format=html the HTML field stays empty.
	resp2, err := http.Get(ts.http.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	body2 := decodeBody[struct {
		Messages []historyMessage `json:"messages"`
	}](t, resp2)
	if body2.Messages[1].HTML != "" {
		t.Error("HTML must be opt-in")
	}
}

func TestQueries_SummaryAndFull(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	session := ts.sessions.Current()
	ts.store.Record(ctx, session, cache.Entry{
		Entity:      "Items",
		Description: "items query",
		Result:      json.RawMessage(`{"count":3}`),
		Summary:     "3 rows",
	})

	resp, err := http.Get(ts.http.URL + "/api/queries")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[struct {
		Success bool          `json:"success"`
		Count   int           `json:"count"`
		Queries []cache.Entry `json:"queries"`
	}](t, resp)
	if body.Count != 1 || len(body.Queries[0].Result) != 0 {
		t.Errorf("summary view = %+v", body)
	}

	respFull, err := http.Get(ts.http.URL + "/api/queries?full=1")
	if err != nil {
		t.Fatal(err)
	}
	bodyFull := decodeBody[struct {
		Queries []cache.Entry `json:"queries"`
	}](t, respFull)
	if len(bodyFull.Queries[0].Result) == 0 {
		t.Error("full view must include payloads")
	}
}

func TestClear_WipesEverythingAndRotatesSession(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	oldSession := ts.sessions.Current()
	ts.store.Record(ctx, oldSession, cache.Entry{Entity: "Items", Description: "stale"})
	ts.store.AddMessage(ctx, "user", "old question")

	resp := ts.postJSON(t, "/api/clear", nil)
	body := decodeBody[map[string]any](t, resp)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	newSession, _ := body["session_id"].(string)
	if newSession == "" || newSession == oldSession {
		t.Errorf("session not rotated: %q -> %q", oldSession, newSession)
	}

	msgs, _ := ts.store.RecentMessages(ctx, 10)
	if len(msgs) != 0 {
		t.Errorf("transcript survived clear: %d messages", len(msgs))
	}
	entries, _ := ts.store.ListForSession(ctx, oldSession, false)
	if len(entries) != 0 {
		t.Errorf("cache survived clear: %d entries", len(entries))
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}

	respV, err := http.Get(ts.http.URL + "/api/version")
	if err != nil {
		t.Fatal(err)
	}
	if respV.StatusCode != http.StatusOK {
		t.Errorf("version status = %d", respV.StatusCode)
	}
	respV.Body.Close()
}
