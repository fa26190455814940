package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"navigator/internal/auth"
	logpkg "navigator/internal/logger"
	"navigator/internal/narrative"
	"navigator/internal/preview"
	"navigator/internal/route"
	"navigator/internal/search"
	"navigator/internal/view"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	setJSONHeaders(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[check.Name] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
			continue
		}
		checks[check.Name] = map[string]any{"status": "ok"}
	}

	setJSONHeaders(w)
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleBundle serves the pre-compressed script bundle as gzip.
func (s *HTTPServer) handleBundle(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.cfg.StaticDir, "build", "bundle.js.gz")
	f, err := os.Open(path)
	if err != nil {
		s.notFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.notFound(w, r)
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Type", "application/javascript")
	http.ServeContent(w, r, "bundle.js", info.ModTime(), f)
}

// handleSearch runs a search against the page session's result cache.
func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	setJSONHeaders(w)
	query := r.URL.Query()

	q := search.Query{
		Term:     query.Get("search"),
		Sort:     query.Get("sort"),
		Category: search.ParseCategory(query.Get("category")),
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > search.MaxPageSize {
			s.writeMappedError(w, r, domainError(http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and "+strconv.Itoa(search.MaxPageSize), nil))
			return
		}
		q.PageSize = n
	}
	q.Username = s.username(r.Context(), auth.TokenFromRequest(r))
	q = q.Normalize()

	if q.Username == "" && (q.Category == search.CategoryOwn || q.Category == search.CategoryShared) {
		writeJSON(w, http.StatusOK, search.Result{Hits: []narrative.Doc{}})
		return
	}

	invalidate := query.Get("refresh") == "1" || query.Get("refresh") == "true"
	cache := s.caches.ForSession(sessionID(r.Context()))
	result, err := s.search.Search(r.Context(), q, cache, invalidate)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleNarrative(w http.ResponseWriter, r *http.Request) {
	setJSONHeaders(w)
	key, err := keyFromRoute(r)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	doc, err := s.narratives.FetchNarrative(r.Context(), key, auth.TokenFromRequest(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handlePreview renders the details pane of one narrative as an HTML
// fragment. Fetch errors render inline.
func (s *HTTPServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRoute(r)
	if err != nil {
		s.notFound(w, r)
		return
	}
	p := route.Params{ID: key.ID, Obj: key.Obj, Ver: key.Ver, View: route.ViewPreview}
	if r.URL.Query().Get("view") == route.ViewData {
		p.View = route.ViewData
	}

	d := view.Details{Doc: narrative.Doc{AccessGroup: key.ID, ObjID: key.Obj, Version: key.Ver}}
	doc, err := s.narratives.FetchNarrative(r.Context(), key, auth.TokenFromRequest(r))
	if err != nil {
		logpkg.FromContext(r.Context()).Warn("fetch narrative", zap.String("upa", key.String()), zap.Error(err))
		d.ErrHeading = preview.ErrorHeading
		d.ErrMessage = preview.ErrorMessage(err)
	} else {
		d.Doc = doc
		d.Cells = preview.BuildCells(doc.Cells)
		d.Data = preview.BuildDataView(doc.AccessGroup, doc.DataObjects, s.cfg.HostRoot)
	}
	s.fillDetailLinks(&d, p, r.URL.Query())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Details(w, d); err != nil {
		logpkg.FromContext(r.Context()).Error("render preview", zap.Error(err))
	}
}

// handleSignOut logs the token out with the auth service. The auth cookie is
// only cleared when the logout succeeded.
func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	redirect, ok := s.header.SignOut(r.Context(), auth.TokenFromRequest(r))
	if !ok {
		http.Redirect(w, r, s.link("/"), http.StatusSeeOther)
		return
	}

	sid := sessionID(r.Context())
	if err := s.caches.Drop(r.Context(), sid); err != nil {
		logpkg.FromContext(r.Context()).Warn("drop session cache", zap.Error(err))
	}
	s.registry.Forget(sid)

	http.SetCookie(w, &http.Cookie{
		Name:    auth.SessionCookie,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// username resolves the token owner; "" when signed out or when the auth
// service fails.
func (s *HTTPServer) username(ctx context.Context, token string) string {
	if token == "" {
		return ""
	}
	username, err := s.users.Username(ctx, token)
	if err != nil {
		logpkg.FromContext(ctx).Warn("resolve username", zap.Error(err))
		return ""
	}
	return username
}

func keyFromRoute(r *http.Request) (narrative.Key, error) {
	return narrative.ParseKey(chi.URLParam(r, "id") + "/" + chi.URLParam(r, "obj") + "/" + chi.URLParam(r, "ver"))
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logpkg.FromContext(r.Context()).Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func setJSONHeaders(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}
