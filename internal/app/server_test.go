package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"navigator/internal/auth"
	"navigator/internal/cache"
	"navigator/internal/config"
	"navigator/internal/header"
	"navigator/internal/jsonrpc"
	"navigator/internal/listing"
	"navigator/internal/narrative"
	"navigator/internal/profile"
	"navigator/internal/search"
	"navigator/internal/view"
)

type fakeSearch struct {
	mu     sync.Mutex
	result search.Result
	err    error
	calls  []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query, _ search.Cache, _ bool) (search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)
	return f.result, f.err
}

func (f *fakeSearch) Calls() []search.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]search.Query(nil), f.calls...)
}

type fakeNarratives struct {
	mu      sync.Mutex
	doc     narrative.Doc
	err     error
	panics  bool
	fetched []narrative.Key
	old     []narrative.Key
}

func (f *fakeNarratives) FetchNarrative(_ context.Context, key narrative.Key, _ string) (narrative.Doc, error) {
	if f.panics {
		panic("workspace exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, key)
	if f.err != nil {
		return narrative.Doc{}, f.err
	}
	doc := f.doc
	doc.AccessGroup, doc.ObjID, doc.Version = key.ID, key.Obj, key.Ver
	return doc, nil
}

func (f *fakeNarratives) FetchOldVersion(ctx context.Context, id, obj, ver int, token string) (narrative.Doc, error) {
	f.mu.Lock()
	f.old = append(f.old, narrative.Key{ID: id, Obj: obj, Ver: ver})
	f.mu.Unlock()
	return f.FetchNarrative(ctx, narrative.Key{ID: id, Obj: obj, Ver: ver}, token)
}

type fakeAuth struct {
	users     map[string]string
	logoutErr error
}

func (f *fakeAuth) Username(_ context.Context, token string) (string, error) {
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return "", auth.ErrUnauthorized
}

func (f *fakeAuth) Logout(_ context.Context, _ string) error {
	return f.logoutErr
}

type fakeProfiles struct{}

func (fakeProfiles) Get(_ context.Context, username, _ string) (profile.Profile, error) {
	return profile.Profile{Username: username, RealName: "Amy Pond"}, nil
}

type testEnv struct {
	server     *HTTPServer
	handler    http.Handler
	search     *fakeSearch
	narratives *fakeNarratives
	auth       *fakeAuth
	cfg        config.Config
}

func newTestEnv(t *testing.T, checks ...ReadyCheck) *testEnv {
	t.Helper()
	cfg := config.Config{
		URLPrefix:     "/narratives",
		HostRoot:      "https://ci.kbase.us",
		ViewRoutes:    config.ViewRoutes{Narrative: "https://ci.kbase.us/narrative"},
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
		StaticDir:     t.TempDir(),
	}
	renderer, err := view.New(cfg.URLPrefix)
	if err != nil {
		t.Fatalf("view.New: %v", err)
	}

	env := &testEnv{
		search:     &fakeSearch{},
		narratives: &fakeNarratives{},
		auth:       &fakeAuth{users: map[string]string{"tok": "amy"}},
		cfg:        cfg,
	}
	caches := cache.NewMemory(16, 8)
	env.server = NewHTTPServer(Deps{
		Config:     cfg,
		Search:     env.search,
		Registry:   listing.NewRegistry(env.search, env.narratives, caches, 16, zap.NewNop()),
		Caches:     caches,
		Narratives: env.narratives,
		Users:      env.auth,
		Header:     header.NewBuilder("Narratives", cfg.HostRoot, cfg.URLPrefix, env.auth, fakeProfiles{}, zap.NewNop()),
		Renderer:   renderer,
		Checks:     checks,
		Logger:     zap.NewNop(),
	})
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func signedIn(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "tok"})
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeBody(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t,
		ReadyCheck{Name: "meilisearch", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["meilisearch"].(map[string]any)["status"] != "ok" {
		t.Errorf("meilisearch check should pass: %v", checks)
	}
	if checks["redis"].(map[string]any)["error"] != "connection refused" {
		t.Errorf("redis error not reported: %v", checks)
	}
}

func TestReadyEndpointWithoutChecks(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestBundleServedGzipped(t *testing.T) {
	env := newTestEnv(t)
	if err := os.MkdirAll(filepath.Join(env.cfg.StaticDir, "build"), 0o755); err != nil {
		t.Fatal(err)
	}
	payload := []byte{0x1f, 0x8b, 0x08, 0x00}
	if err := os.WriteFile(filepath.Join(env.cfg.StaticDir, "build", "bundle.js.gz"), payload, 0o644); err != nil {
		t.Fatal(err)
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/static/build/bundle.js", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Encoding"); got != "gzip" {
		t.Errorf("expected gzip encoding, got %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/javascript" {
		t.Errorf("unexpected content type %q", got)
	}
	if rr.Body.String() != string(payload) {
		t.Error("bundle body should be the compressed file as is")
	}
}

func TestStaticFiles(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.cfg.StaticDir, "app.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/static/app.css", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "body{}" {
		t.Fatalf("unexpected static response %d %q", rr.Code, rr.Body.String())
	}
}

func TestUnknownPathsRenderNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/narratives/a/b", "/narratives/1/2/3/4", "/elsewhere"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Page not found") {
			t.Errorf("%s: expected the 404 page", path)
		}
	}
}

func TestPanicRendersServerError(t *testing.T) {
	env := newTestEnv(t)
	env.narratives.panics = true
	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/narratives/1/2/3", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Unexpected server error") {
		t.Errorf("expected the 500 page, got %s", rr.Body.String())
	}
}

func TestSearchAPI(t *testing.T) {
	env := newTestEnv(t)
	env.search.result = search.Result{Count: 1, Hits: []narrative.Doc{{AccessGroup: 9, Title: "Public genomes"}}}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/search?category=public&search=genome&limit=40", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result search.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Count != 1 || result.Hits[0].Title != "Public genomes" {
		t.Errorf("unexpected result %+v", result)
	}
	calls := env.search.Calls()
	if len(calls) != 1 || calls[0].Term != "genome" || calls[0].PageSize != 40 || calls[0].Category != search.CategoryPublic {
		t.Errorf("unexpected search calls %+v", calls)
	}
}

func TestSearchAPISignedOutOwnIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/search?category=own", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(env.search.Calls()) != 0 {
		t.Error("own listing without a user should not search")
	}
}

func TestSearchAPIErrors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/search?category=public&limit=abc", nil))
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["code"] != "INVALID_LIMIT" {
		t.Errorf("bad limit: got %d %s", rr.Code, rr.Body.String())
	}

	env.search.err = search.ErrUnavailable
	rr = env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/search?category=public", nil))
	if rr.Code != http.StatusServiceUnavailable || decodeBody(t, rr)["code"] != "SEARCH_UNAVAILABLE" {
		t.Errorf("unavailable: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestNarrativeAPI(t *testing.T) {
	env := newTestEnv(t)
	env.narratives.doc = narrative.Doc{Title: "Genomes"}

	rr := env.do(signedIn(httptest.NewRequest(http.MethodGet, "/narratives/api/narratives/5/1/3", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["narrative_title"] != "Genomes" || body["version"] != float64(3) {
		t.Errorf("unexpected body %v", body)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/narratives/x/1/3", nil))
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["code"] != "INVALID_KEY" {
		t.Errorf("bad key: got %d %s", rr.Code, rr.Body.String())
	}

	env.narratives.err = &jsonrpc.Error{Name: "JSONRPCError", Code: -32500, Message: "Object 1 cannot be accessed"}
	rr = env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/narratives/5/1/3", nil))
	body := decodeBody(t, rr)
	if rr.Code != http.StatusBadGateway || body["error"] != "Object 1 cannot be accessed" {
		t.Errorf("upstream error: got %d %v", rr.Code, body)
	}
}

func TestPreviewFragment(t *testing.T) {
	env := newTestEnv(t)
	env.narratives.doc = narrative.Doc{Title: "Genomes", Cells: []narrative.Cell{{CellType: "markdown", Source: "# Intro\nhello"}}}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/narratives/5/1/3/preview", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	out := rr.Body.String()
	if strings.Contains(out, "<html") {
		t.Error("fragment should not include the layout")
	}
	if !strings.Contains(out, "Intro") || !strings.Contains(out, "https://ci.kbase.us/narrative/5") {
		t.Errorf("unexpected fragment %s", out)
	}

	env.narratives.err = &jsonrpc.Error{Message: "No workspace with id 5 exists"}
	rr = env.do(httptest.NewRequest(http.MethodGet, "/narratives/api/narratives/5/1/3/preview", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "No workspace with id 5 exists") {
		t.Errorf("fetch error should render inline: %d %s", rr.Code, rr.Body.String())
	}
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(signedIn(httptest.NewRequest(http.MethodPost, "/narratives/signout", nil)))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://ci.kbase.us/#auth2/signedout" {
		t.Errorf("unexpected redirect %q", loc)
	}
	if c := findCookie(rr, auth.SessionCookie); c == nil || c.MaxAge >= 0 {
		t.Errorf("expected the auth cookie to be cleared, got %+v", c)
	}
}

func TestSignOutFailureKeepsCookie(t *testing.T) {
	env := newTestEnv(t)
	env.auth.logoutErr = errors.New("500: Failed to log out")

	rr := env.do(signedIn(httptest.NewRequest(http.MethodPost, "/narratives/signout", nil)))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/narratives/" {
		t.Errorf("unexpected redirect %q", loc)
	}
	if c := findCookie(rr, auth.SessionCookie); c != nil {
		t.Errorf("auth cookie must survive a failed sign out, got %+v", c)
	}
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
