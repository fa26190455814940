package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"navigator/internal/metrics"
	"navigator/internal/session"
)

// SessionCookie is the cookie the KBase UI keeps the auth token in.
const SessionCookie = "kbase_session"

var (
	ErrNoToken      = errors.New("no auth token")
	ErrUnauthorized = errors.New("auth token rejected")
)

// TokenFromRequest returns the KBase token from the session cookie or the
// Authorization header, or "" when the user is signed out.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return header
}

// Client talks to the KBase auth service.
type Client struct {
	baseURL     string
	http        *http.Client
	identities  session.Store
	identityTTL time.Duration
	logger      *zap.Logger
}

// NewClient creates an auth client. identities may be nil to disable the
// username cache.
func NewClient(baseURL string, timeout time.Duration, identities session.Store, identityTTL time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: timeout},
		identities:  identities,
		identityTTL: identityTTL,
		logger:      logger,
	}
}

type tokenInfo struct {
	User string `json:"user"`
}

// Username resolves the user a token belongs to.
func (c *Client) Username(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNoToken
	}

	hash := HashToken(token)
	if c.identities != nil {
		id, err := c.identities.LookupIdentity(ctx, hash)
		if err == nil {
			return id.Username, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			c.logger.Warn("identity cache lookup failed", zap.Error(err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/V2/token", nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	metrics.UpstreamRequestsTotal.WithLabelValues("auth", metrics.Outcome(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("auth returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode token info: %w", err)
	}
	if info.User == "" {
		return "", ErrUnauthorized
	}

	if c.identities != nil {
		if err := c.identities.SaveIdentity(ctx, hash, info.User, c.identityTTL); err != nil {
			c.logger.Warn("identity cache save failed", zap.Error(err))
		}
	}
	return info.User, nil
}

// Logout revokes the token at the auth service.
func (c *Client) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}

	if c.identities != nil {
		if err := c.identities.RevokeIdentity(ctx, HashToken(token)); err != nil {
			c.logger.Warn("identity cache revoke failed", zap.Error(err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("create logout request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := c.http.Do(req)
	metrics.UpstreamRequestsTotal.WithLabelValues("auth", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("logout returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
