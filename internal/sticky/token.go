// Package sticky implements the HMAC-signed opaque token that pins a
// conversation to a chosen upstream. Clients treat tokens as capabilities
// and never parse them; the policy revision rides inside the signed
// payload so a policy reload invalidates every outstanding token.
package sticky

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Verification failures, distinguished so the planner can map them to the
// right client-facing message.
var (
	ErrBadSignature = errors.New("sticky token: bad signature")
	ErrExpired      = errors.New("sticky token: expired")
	ErrStalePolicy  = errors.New("sticky token: stale policy revision")
	ErrMalformed    = errors.New("sticky token: malformed")
)

// Payload is the signed token body.
type Payload struct {
	RouteID        string `json:"route_id"`
	Alias          string `json:"alias"`
	ModelID        string `json:"model_id"`
	TurnsRemaining int    `json:"turns_remaining"`
	IssuedAt       int64  `json:"issued_at"`
	ExpiresAt      int64  `json:"expires_at"`
	PolicyRev      string `json:"policy_rev"`
}

// Tokenizer issues and verifies tokens with a shared HMAC-SHA256 secret.
type Tokenizer struct {
	secret []byte
}

// NewTokenizer builds a tokenizer. When no secret is configured a random
// process-local one is generated; tokens then die with the process, which
// is logged loudly.
func NewTokenizer(secret string, logger *zap.Logger) *Tokenizer {
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic(fmt.Sprintf("sticky: cannot generate fallback secret: %v", err))
		}
		logger.Warn("no sticky secret configured, using random process-local secret; tokens will not survive restarts")
		return &Tokenizer{secret: b}
	}
	return &Tokenizer{secret: []byte(secret)}
}

// Issue signs the payload and renders it as base64url(payload_json).base64url(tag).
func (t *Tokenizer) Issue(p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("sticky issue: %w", err)
	}
	mac := hmac.New(sha256.New, t.secret)
	mac.Write(body)
	tag := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(tag), nil
}

// Verify checks the tag in constant time, then expiry, then the policy
// revision. The payload is returned only when all three hold.
func (t *Tokenizer) Verify(token string, now time.Time, currentPolicyRev string) (*Payload, error) {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return nil, ErrMalformed
	}
	body, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, ErrMalformed
	}
	tag, err := base64.RawURLEncoding.DecodeString(token[dot+1:])
	if err != nil {
		return nil, ErrMalformed
	}
	mac := hmac.New(sha256.New, t.secret)
	mac.Write(body)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, ErrBadSignature
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformed
	}
	if now.UnixMilli() >= p.ExpiresAt {
		return nil, ErrExpired
	}
	if p.PolicyRev != currentPolicyRev {
		return nil, ErrStalePolicy
	}
	return &p, nil
}
