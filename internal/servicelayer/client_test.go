package servicelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nvarela/b1agent/internal/config"
	"github.com/nvarela/b1agent/internal/httpkit"
)

// newTestServer builds a fake service layer with a /Login endpoint and
// a /Things collection of n rows served in pages of serverPageSize.
func newTestServer(t *testing.T, n, serverPageSize int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/Login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if body["UserName"] != "manager" || body["CompanyDB"] != "TESTDB" || body["Password"] != "pw" {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"SessionId": "sess-123"})
	})
	mux.HandleFunc("/Logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/Things", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("B1SESSION")
		if err != nil || cookie.Value != "sess-123" {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}

		top, _ := strconv.Atoi(r.URL.Query().Get("$top"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
		if top <= 0 || top > serverPageSize {
			// The backend caps pages below the requested size.
			top = serverPageSize
		}

		var rows []map[string]any
		for i := skip; i < n && len(rows) < top; i++ {
			rows = append(rows, map[string]any{"Id": float64(i)})
		}

		resp := map[string]any{"value": rows}
		if skip+len(rows) < n {
			resp["odata.nextLink"] = fmt.Sprintf("Things?$skip=%d", skip+len(rows))
		}
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server) *Client {
	return New(config.ServiceLayerConfig{
		BaseURL:  srv.URL,
		Username: "manager@TESTDB",
		Password: "pw",
	}, nil)
}

func TestLogin_Success(t *testing.T) {
	srv := newTestServer(t, 0, 20)
	defer srv.Close()

	c := newTestClient(srv)
	if !c.Login(context.Background()) {
		t.Fatal("login failed")
	}
	if !c.Authenticated() {
		t.Error("client should be authenticated after login")
	}

	c.Logout(context.Background())
	if c.Authenticated() {
		t.Error("client should be unauthenticated after logout")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	srv := newTestServer(t, 0, 20)
	defer srv.Close()

	c := New(config.ServiceLayerConfig{
		BaseURL:  srv.URL,
		Username: "intruder@TESTDB",
		Password: "wrong",
	}, nil)
	if c.Login(context.Background()) {
		t.Fatal("login should fail with bad credentials")
	}
	if c.Authenticated() {
		t.Error("client must stay unauthenticated after failed login")
	}
}

func TestLogin_TransportFailure(t *testing.T) {
	// Point at a closed server: both login attempts must fail without
	// panicking and leave the client unauthenticated.
	srv := newTestServer(t, 0, 20)
	srv.Close()

	c := newTestClient(srv)
	// Shrink the retry budget so the refused connections don't stall the test.
	c.http = httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithRetry(1, time.Millisecond))
	if c.Login(context.Background()) {
		t.Fatal("login should fail against closed server")
	}

	res := c.Query(context.Background(), QueryRequest{Entity: "Things", Path: "/Things"})
	if res.Success {
		t.Fatal("query should fail when login is impossible")
	}
	if res.Error == "" || res.Entity != "Things" {
		t.Errorf("expected structured failure, got %+v", res)
	}
}

func TestSplitCredential(t *testing.T) {
	tests := []struct {
		in           string
		user, tenant string
	}{
		{"manager@TESTDB", "manager", "TESTDB"},
		{"manager", "manager", ""},
		{"a@b@c", "a", "b@c"},
	}
	for _, tt := range tests {
		user, tenant := splitCredential(tt.in)
		if user != tt.user || tenant != tt.tenant {
			t.Errorf("splitCredential(%q) = (%q, %q), want (%q, %q)",
				tt.in, user, tenant, tt.user, tt.tenant)
		}
	}
}

func TestQuery_TopCapsRows(t *testing.T) {
	srv := newTestServer(t, 100, 500)
	defer srv.Close()

	c := newTestClient(srv)
	res := c.Query(context.Background(), QueryRequest{
		Entity: "Things", Path: "/Things", Top: 10,
	})
	if !res.Success {
		t.Fatalf("query failed: %s", res.Error)
	}
	if res.Count > 10 {
		t.Errorf("count = %d, want <= 10", res.Count)
	}
	if res.Count != len(res.Data) {
		t.Errorf("count %d != len(data) %d", res.Count, len(res.Data))
	}
	if res.Paginated {
		t.Error("capped query must not paginate")
	}
}

func TestQuery_PaginatesToCompletion(t *testing.T) {
	// 55 rows, server caps pages at 20 even though the client asks for
	// more: pagination must advance by rows actually returned.
	srv := newTestServer(t, 55, 20)
	defer srv.Close()

	c := newTestClient(srv)
	res := c.Query(context.Background(), QueryRequest{Entity: "Things", Path: "/Things"})
	if !res.Success {
		t.Fatalf("query failed: %s", res.Error)
	}
	if res.Count != 55 {
		t.Fatalf("count = %d, want 55", res.Count)
	}
	if !res.Paginated {
		t.Error("unbounded query should report paginated")
	}
	// Concatenation of pages equals the full, ordered result set.
	for i, rec := range res.Data {
		if id := rec["Id"].(float64); int(id) != i {
			t.Fatalf("row %d has Id %v, want %d", i, id, i)
		}
	}
}

func TestQuery_AutoLogin(t *testing.T) {
	srv := newTestServer(t, 5, 20)
	defer srv.Close()

	c := newTestClient(srv)
	if c.Authenticated() {
		t.Fatal("fresh client should be unauthenticated")
	}
	res := c.Query(context.Background(), QueryRequest{Entity: "Things", Path: "/Things"})
	if !res.Success {
		t.Fatalf("query failed: %s", res.Error)
	}
	if !c.Authenticated() {
		t.Error("query should have logged in transparently")
	}
}

func TestQuery_PageCeiling(t *testing.T) {
	// Server always has more rows than the ceiling allows; the loop
	// must stop at maxPages rather than running away.
	srv := newTestServer(t, 1000, 10)
	defer srv.Close()

	c := newTestClient(srv)
	c.pageSize = 10
	c.maxPages = 3

	res := c.Query(context.Background(), QueryRequest{Entity: "Things", Path: "/Things"})
	if !res.Success {
		t.Fatalf("query failed: %s", res.Error)
	}
	if res.Count != 30 {
		t.Errorf("count = %d, want 30 (3 pages of 10)", res.Count)
	}
}

func TestQuery_AbortsOnMidPaginationError(t *testing.T) {
	var pages int
	mux := http.NewServeMux()
	mux.HandleFunc("/Login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"SessionId": "sess-123"})
	})
	mux.HandleFunc("/Things", func(w http.ResponseWriter, r *http.Request) {
		pages++
		if pages > 1 {
			http.Error(w, "backend fell over", http.StatusBadRequest)
			return
		}
		rows := make([]map[string]any, 10)
		for i := range rows {
			rows[i] = map[string]any{"Id": float64(i)}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value":          rows,
			"odata.nextLink": "Things?$skip=10",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv)
	c.pageSize = 10

	res := c.Query(context.Background(), QueryRequest{Entity: "Things", Path: "/Things"})
	if res.Success {
		t.Fatal("query must fail when any page fails")
	}
	if len(res.Data) != 0 {
		t.Error("failed query must not return partial data")
	}
	if !strings.Contains(res.Error, "400") {
		t.Errorf("error should carry status, got %q", res.Error)
	}
}

func TestCatalog(t *testing.T) {
	cat := NewCatalog(map[string]config.EntityConfig{
		"Zebras": {Path: "/Zebras", Description: "stripes", CommonFields: []string{"A", "B", "C", "D", "E", "F"}},
		"Apples": {Path: "/Apples", Description: "fruit", CommonFields: []string{"X"}},
	})

	names := cat.Names()
	if len(names) != 2 || names[0] != "Apples" || names[1] != "Zebras" {
		t.Errorf("Names() = %v, want sorted [Apples Zebras]", names)
	}

	if _, ok := cat.Describe("Apples"); !ok {
		t.Error("Describe(Apples) not found")
	}
	if _, ok := cat.Describe("Bananas"); ok {
		t.Error("Describe(Bananas) should not be found")
	}

	s := cat.Summary()
	if !strings.Contains(s, "• Apples") || !strings.Contains(s, "• Zebras") {
		t.Errorf("summary missing entities:\n%s", s)
	}
	// Only the first five fields appear.
	if strings.Contains(s, "F") && strings.Contains(s, "A, B, C, D, E, F") {
		t.Errorf("summary should truncate to 5 fields:\n%s", s)
	}
	if cat.Summary() != s {
		t.Error("summary must be deterministic")
	}
}
