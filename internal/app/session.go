package app

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	logpkg "navigator/internal/logger"
)

// PageSessionCookie carries the signed page-session id.
const PageSessionCookie = "navigator_session"

type sessionKey struct{}

// pageSession makes sure every request has a page-session id. A missing,
// forged or expired cookie starts a new session.
func (s *HTTPServer) pageSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := ""
		if c, err := r.Cookie(PageSessionCookie); err == nil {
			if claims, err := s.sessions.Parse(c.Value); err == nil {
				sid = claims.SID
			}
		}
		if sid == "" {
			sid = uuid.NewString()
			token, err := s.sessions.Issue(sid, s.cfg.SessionTTL)
			if err != nil {
				logpkg.FromContext(r.Context()).Error("issue page session", zap.Error(err))
			} else {
				http.SetCookie(w, &http.Cookie{
					Name:     PageSessionCookie,
					Value:    token,
					Path:     s.link("/"),
					MaxAge:   int(s.cfg.SessionTTL / time.Second),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sid)
		ctx = logpkg.ContextWithLogger(ctx, logpkg.FromContext(ctx).With(zap.String("sid", sid)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionID(ctx context.Context) string {
	sid, _ := ctx.Value(sessionKey{}).(string)
	return sid
}
