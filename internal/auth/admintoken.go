package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrAuthenticationFailed covers every admin-token rejection: unknown token,
// expired token, malformed cache entry. Callers never learn which.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

// TokenStore is the cache behind admin session tokens. Implemented by
// redisstore; faked in tests.
type TokenStore interface {
	SetToken(ctx context.Context, hash string, value []byte, ttl time.Duration) error
	GetToken(ctx context.Context, hash string) ([]byte, bool, error)
	DeleteToken(ctx context.Context, hash string) error
}

// AdminSession is what the cache maps a token hash to.
type AdminSession struct {
	UserID    uint64    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AdminSessions struct {
	store TokenStore
	ttl   time.Duration
	now   func() time.Time
}

func NewAdminSessions(store TokenStore, ttl time.Duration) *AdminSessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AdminSessions{store: store, ttl: ttl, now: time.Now}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue generates a high-entropy opaque token, stores it keyed by its
// digest, and returns the raw token. The raw token is never persisted.
func (a *AdminSessions) Issue(ctx context.Context, userID uint64, role string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	raw := hex.EncodeToString(buf)

	sess := AdminSession{
		UserID:    userID,
		Role:      role,
		ExpiresAt: a.now().Add(a.ttl),
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	if err := a.store.SetToken(ctx, hashToken(raw), b, a.ttl); err != nil {
		return "", err
	}
	return raw, nil
}

// Authenticate re-hashes the presented token and looks it up. The stored
// expires_at is checked again even though the cache TTL should already
// have evicted stale entries; eviction and wall-clock can disagree.
func (a *AdminSessions) Authenticate(ctx context.Context, raw string) (*AdminSession, error) {
	if raw == "" {
		return nil, ErrAuthenticationFailed
	}
	hash := hashToken(raw)

	b, found, err := a.store.GetToken(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAuthenticationFailed
	}

	var sess AdminSession
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if a.now().After(sess.ExpiresAt) {
		_ = a.store.DeleteToken(ctx, hash)
		return nil, ErrAuthenticationFailed
	}
	return &sess, nil
}

func (a *AdminSessions) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return a.store.DeleteToken(ctx, hashToken(raw))
}
