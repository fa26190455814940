package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const tokenVersion = "v1"

// Claims is the payload of the navigator page-session cookie.
type Claims struct {
	SID string `json:"sid"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Signer issues and verifies page-session values of the form
// v1.<payload>.<hmac>.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Issue signs a session id that stays valid for ttl.
func (s *Signer) Issue(sid string, ttl time.Duration) (string, error) {
	if sid == "" {
		return "", ErrInvalidToken
	}
	now := s.now()
	raw, err := json.Marshal(Claims{SID: sid, Iat: now.Unix(), Exp: now.Add(ttl).Unix()})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return tokenVersion + "." + payload + "." + s.sign(payload), nil
}

func (s *Signer) Parse(value string) (Claims, error) {
	version, rest, ok := strings.Cut(value, ".")
	if !ok || version != tokenVersion {
		return Claims{}, ErrInvalidToken
	}
	payload, signature, ok := strings.Cut(rest, ".")
	if !ok || !hmac.Equal([]byte(signature), []byte(s.sign(payload))) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil || claims.SID == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if s.now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(tokenVersion + "." + payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashToken keys cached identities without storing raw KBase tokens.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
