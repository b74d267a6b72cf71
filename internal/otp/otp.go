// Package otp issues short-lived numeric codes and verifies them a
// bounded number of times per (subject, purpose) key.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"time"
)

var (
	ErrNotFound        = errors.New("otp: code not found or expired")
	ErrInvalidCode     = errors.New("otp: invalid code")
	ErrTooManyAttempts = errors.New("otp: too many attempts")
	ErrRateLimited     = errors.New("otp: rate limit exceeded")
)

// Store is the cache behind OTP records and issuance rate windows.
// Implemented by redisstore; the attempt increment must be atomic on
// the backing store.
type Store interface {
	SaveCode(ctx context.Context, subject, purpose, hash string, ttl time.Duration) error
	GetCode(ctx context.Context, subject, purpose string) (hash string, attempts int, found bool, err error)
	IncrAttempts(ctx context.Context, subject, purpose string) (int64, error)
	ResetAttempts(ctx context.Context, subject, purpose string) error
	DeleteCode(ctx context.Context, subject, purpose string) error
	IncrIssueCount(ctx context.Context, subject, purpose string, window time.Duration) (int64, error)
	ResetSubject(ctx context.Context, subject string) error
}

type Service struct {
	store      Store
	codeLength int
	ttl        time.Duration
	maxVerify  int
	maxIssue   int
	rateWindow time.Duration
}

func NewService(store Store, codeLength int, ttl time.Duration, maxVerify, maxIssue int, rateWindow time.Duration) *Service {
	if codeLength < 4 || codeLength > 10 {
		codeLength = 6
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxVerify <= 0 {
		maxVerify = 5
	}
	if maxIssue <= 0 {
		maxIssue = 3
	}
	if rateWindow <= 0 {
		rateWindow = 5 * time.Minute
	}
	return &Service{
		store:      store,
		codeLength: codeLength,
		ttl:        ttl,
		maxVerify:  maxVerify,
		maxIssue:   maxIssue,
		rateWindow: rateWindow,
	}
}

func randomCode(n int) (string, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out), nil
}

func digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Issue generates a fresh code for (subject, purpose), overwriting any
// prior unconsumed record, and returns the plaintext for out-of-band
// delivery. Only the digest is stored.
func (s *Service) Issue(ctx context.Context, subject, purpose string) (string, error) {
	cnt, err := s.store.IncrIssueCount(ctx, subject, purpose, s.rateWindow)
	if err != nil {
		return "", err
	}
	if cnt > int64(s.maxIssue) {
		return "", ErrRateLimited
	}

	code, err := randomCode(s.codeLength)
	if err != nil {
		return "", err
	}
	if err := s.store.SaveCode(ctx, subject, purpose, digest(code), s.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks a code against the stored record. On match the record is
// consumed (deleted) unless consume is false, in which case the attempt
// counter resets instead. A record past maxVerify attempts is purged and
// rejected even for a correct code.
func (s *Service) Verify(ctx context.Context, subject, code, purpose string, consume bool) error {
	hash, attempts, found, err := s.store.GetCode(ctx, subject, purpose)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	if attempts >= s.maxVerify {
		_ = s.store.DeleteCode(ctx, subject, purpose)
		return ErrTooManyAttempts
	}

	want, err := hex.DecodeString(hash)
	if err != nil {
		_ = s.store.DeleteCode(ctx, subject, purpose)
		return ErrNotFound
	}
	got := sha256.Sum256([]byte(code))
	if subtle.ConstantTimeCompare(want, got[:]) != 1 {
		if _, err := s.store.IncrAttempts(ctx, subject, purpose); err != nil {
			return err
		}
		return ErrInvalidCode
	}

	if consume {
		return s.store.DeleteCode(ctx, subject, purpose)
	}
	return s.store.ResetAttempts(ctx, subject, purpose)
}

// RevokeAll drops every code and rate window for a subject. Used on
// logout and account cleanup.
func (s *Service) RevokeAll(ctx context.Context, subject string) error {
	return s.store.ResetSubject(ctx, subject)
}
