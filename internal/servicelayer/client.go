// Package servicelayer implements a session-authenticated client for an
// OData-style business data service ("service layer"). It owns exactly
// one authentication token, re-acquires it transparently when a query
// finds the client logged out, and paginates unbounded queries to
// completion. All failures are reported as structured Result values so
// callers above the tool boundary can keep a conversation alive after a
// failed call.
package servicelayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nvarela/b1agent/internal/config"
	"github.com/nvarela/b1agent/internal/httpkit"
)

const (
	// PageSize is the target page size for unbounded queries. The
	// backend may return fewer rows per page than requested; the skip
	// offset advances by what actually arrived.
	PageSize = 500

	// MaxPages is the hard ceiling on pages fetched for one query, a
	// safety bound against runaway pagination (~250k rows at the
	// target page size).
	MaxPages = 500

	// LoginTimeout bounds the authentication call.
	LoginTimeout = 120 * time.Second

	// QueryTimeout bounds each individual page fetch.
	QueryTimeout = 180 * time.Second
)

// Record is one row as returned by the service, a loosely typed field
// map. It exists only at the parse boundary; consumers project it into
// typed structs immediately (see the netsales package).
type Record = map[string]any

// QueryRequest describes one query. Top == 0 means "all rows" and
// triggers pagination; Top > 0 issues exactly one request.
type QueryRequest struct {
	Entity string // logical name, echoed into the Result
	Path   string // physical endpoint path, e.g. "/Invoices"
	Filter string // OData $filter expression
	Select string // OData $select field list
	Top    int    // row cap, 0 = unbounded
}

// Result is the canonical query outcome. Count always equals len(Data).
// Failures carry Success=false and a non-empty Error; they are values,
// not Go errors, so they can be serialized straight into a tool result.
type Result struct {
	Success   bool     `json:"success"`
	Data      []Record `json:"data,omitempty"`
	Count     int      `json:"count"`
	Entity    string   `json:"entity"`
	Filter    string   `json:"filter,omitempty"`
	Paginated bool     `json:"paginated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Failure builds an error Result for entity.
func Failure(entity, format string, args ...any) Result {
	return Result{
		Success: false,
		Entity:  entity,
		Error:   fmt.Sprintf(format, args...),
	}
}

// Client talks to one service-layer deployment with one session token.
// It is not safe for concurrent use; construct one per logical
// operation (token isolation) or guard it externally.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger

	// token is the opaque session id from the login call. Empty means
	// unauthenticated.
	token string

	// pageSize and maxPages default to the package constants; tests
	// shrink them to exercise pagination without bulk fixtures.
	pageSize int
	maxPages int
}

// New creates a client from connection config. The token starts empty;
// Query logs in on demand.
func New(cfg config.ServiceLayerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "servicelayer")

	opts := []httpkit.ClientOption{
		// Per-call deadlines via context; page and login timeouts differ.
		httpkit.WithTimeout(0),
		httpkit.WithRetry(httpkit.DefaultMaxRetries, httpkit.DefaultBackoffBase),
		httpkit.WithLogger(logger),
	}
	if !cfg.VerifyTLS {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     httpkit.NewClient(opts...),
		logger:   logger,
		pageSize: PageSize,
		maxPages: MaxPages,
	}
}

// Authenticated reports whether the client holds a session token.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// splitCredential separates a "user@tenant" compound username. Without
// a separator the tenant database is empty and the service resolves its
// default.
func splitCredential(username string) (user, tenant string) {
	if i := strings.IndexByte(username, '@'); i >= 0 {
		return username[:i], username[i+1:]
	}
	return username, ""
}

type loginRequest struct {
	CompanyDB string `json:"CompanyDB"`
	UserName  string `json:"UserName"`
	Password  string `json:"Password"`
}

type loginResponse struct {
	SessionID string `json:"SessionId"`
}

// Login authenticates against the service layer. It returns true on
// success and false on any failure; failures never panic or propagate
// as errors, but diagnostic detail is logged so a structured failure
// can be reported by the caller.
func (c *Client) Login(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()

	user, tenant := splitCredential(c.username)
	payload, err := json.Marshal(loginRequest{
		CompanyDB: tenant,
		UserName:  user,
		Password:  c.password,
	})
	if err != nil {
		c.logger.Error("login payload encode failed", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Login", bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("login request build failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("login transport failed", "tenant", tenant, "error", err)
		return false
	}

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 2048)
		c.logger.Error("login rejected",
			"tenant", tenant,
			"user", user,
			"status", resp.StatusCode,
			"body", body,
		)
		return false
	}

	var lr loginResponse
	err = json.NewDecoder(resp.Body).Decode(&lr)
	httpkit.DrainAndClose(resp.Body, 4096)
	if err != nil || lr.SessionID == "" {
		c.logger.Error("login response decode failed", "error", err)
		return false
	}

	c.token = lr.SessionID
	c.logger.Info("service layer login ok", "tenant", tenant, "user", user)
	return true
}

// Logout invalidates the session token, best effort. Logout is not on a
// critical path, so failures are logged and swallowed.
func (c *Client) Logout(ctx context.Context) {
	if c.token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Logout", http.NoBody)
	if err != nil {
		c.logger.Warn("logout request build failed", "error", err)
		return
	}
	c.setSession(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("logout failed", "error", err)
	} else {
		httpkit.DrainAndClose(resp.Body, 1024)
	}
	c.token = ""
}

// setSession attaches the session token the way the service expects it:
// as a B1SESSION cookie.
func (c *Client) setSession(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "B1SESSION", Value: c.token})
}

// listResponse is the wire shape of a successful list call. The
// continuation marker appears under either OData key depending on the
// protocol version the backend speaks.
type listResponse struct {
	Value     []Record `json:"value"`
	NextLink  string   `json:"odata.nextLink"`
	NextLink4 string   `json:"@odata.nextLink"`
}

func (lr *listResponse) hasNext() bool {
	return lr.NextLink != "" || lr.NextLink4 != ""
}

// Query executes one query, logging in first if the client holds no
// token. With Top set it issues a single capped request; otherwise it
// paginates until a short or empty page, a continuation-marker-less
// short page, or the page ceiling. Any non-200 page aborts the whole
// operation — there is no partial success.
func (c *Client) Query(ctx context.Context, q QueryRequest) Result {
	if c.token == "" {
		if !c.Login(ctx) {
			return Failure(q.Entity, "could not authenticate against the service layer")
		}
	}

	if q.Top > 0 {
		return c.querySingle(ctx, q)
	}
	return c.queryAll(ctx, q)
}

func (c *Client) querySingle(ctx context.Context, q QueryRequest) Result {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(q.Top))
	if q.Select != "" {
		params.Set("$select", q.Select)
	}
	if q.Filter != "" {
		params.Set("$filter", q.Filter)
	}

	page, errRes := c.fetchPage(ctx, q, params)
	if errRes != nil {
		return *errRes
	}

	return Result{
		Success: true,
		Data:    page.Value,
		Count:   len(page.Value),
		Entity:  q.Entity,
		Filter:  q.Filter,
	}
}

func (c *Client) queryAll(ctx context.Context, q QueryRequest) Result {
	var all []Record
	skip := 0

	for page := 0; page < c.maxPages; page++ {
		params := url.Values{}
		params.Set("$top", strconv.Itoa(c.pageSize))
		params.Set("$skip", strconv.Itoa(skip))
		if q.Select != "" {
			params.Set("$select", q.Select)
		}
		if q.Filter != "" {
			params.Set("$filter", q.Filter)
		}

		pageData, errRes := c.fetchPage(ctx, q, params)
		if errRes != nil {
			return *errRes
		}

		if len(pageData.Value) == 0 {
			break
		}

		all = append(all, pageData.Value...)
		c.logger.Debug("page fetched",
			"entity", q.Entity,
			"page", page+1,
			"rows", len(pageData.Value),
			"total", len(all),
		)

		// A short page without a continuation marker is the last page.
		if len(pageData.Value) < c.pageSize && !pageData.hasNext() {
			break
		}

		// Advance by rows actually returned, not by the requested page
		// size; the backend may cap pages below what was asked for.
		skip += len(pageData.Value)
	}

	c.logger.Info("query complete", "entity", q.Entity, "rows", len(all))

	return Result{
		Success:   true,
		Data:      all,
		Count:     len(all),
		Entity:    q.Entity,
		Filter:    q.Filter,
		Paginated: true,
	}
}

// fetchPage issues one list request. On failure it returns a Result to
// hand straight back to the caller; on success the decoded page.
func (c *Client) fetchPage(ctx context.Context, q QueryRequest, params url.Values) (*listResponse, *Result) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	u := c.baseURL + q.Path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		res := Failure(q.Entity, "build request: %v", err)
		return nil, &res
	}
	c.setSession(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("query transport failed", "entity", q.Entity, "error", err)
		res := Failure(q.Entity, "transport error: %v", err)
		return nil, &res
	}

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 2048)
		c.logger.Error("query rejected",
			"entity", q.Entity,
			"status", resp.StatusCode,
			"body", body,
		)
		res := Failure(q.Entity, "error %d: %s", resp.StatusCode, body)
		return nil, &res
	}

	var page listResponse
	err = json.NewDecoder(resp.Body).Decode(&page)
	httpkit.DrainAndClose(resp.Body, 4096)
	if err != nil {
		res := Failure(q.Entity, "decode response: %v", err)
		return nil, &res
	}

	return &page, nil
}
