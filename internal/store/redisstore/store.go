package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store backs both the OTP service and admin session tokens. All
// mutations go through redis primitives that are atomic on their own
// (HIncrBy, Incr), per the concurrency rules around attempt counters.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb}
}

func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func codeKey(subject, purpose string) string { return "otp:code:" + subject + ":" + purpose }
func rateKey(subject, purpose string) string { return "otp:rl:" + subject + ":" + purpose }
func tokenKey(hash string) string            { return "admintok:" + hash }

// SaveCode overwrites any previous record for (subject, purpose) and
// starts a fresh TTL window. Last-issued wins.
func (s *Store) SaveCode(ctx context.Context, subject, purpose, hash string, ttl time.Duration) error {
	key := codeKey(subject, purpose)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"hash", hash,
		"attempts", 0,
		"created_at", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetCode(ctx context.Context, subject, purpose string) (string, int, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, codeKey(subject, purpose)).Result()
	if err != nil {
		return "", 0, false, err
	}
	if len(vals) == 0 {
		return "", 0, false, nil
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	return vals["hash"], attempts, true, nil
}

func (s *Store) IncrAttempts(ctx context.Context, subject, purpose string) (int64, error) {
	return s.rdb.HIncrBy(ctx, codeKey(subject, purpose), "attempts", 1).Result()
}

func (s *Store) ResetAttempts(ctx context.Context, subject, purpose string) error {
	return s.rdb.HSet(ctx, codeKey(subject, purpose), "attempts", 0).Err()
}

func (s *Store) DeleteCode(ctx context.Context, subject, purpose string) error {
	return s.rdb.Del(ctx, codeKey(subject, purpose)).Err()
}

// IncrIssueCount bumps the issuance counter for (subject, purpose) and
// sets the window TTL on first increment.
func (s *Store) IncrIssueCount(ctx context.Context, subject, purpose string, window time.Duration) (int64, error) {
	key := rateKey(subject, purpose)
	cnt, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if cnt == 1 {
		_ = s.rdb.Expire(ctx, key, window).Err()
	}
	return cnt, nil
}

// ResetSubject deletes every code record and rate window for a subject.
func (s *Store) ResetSubject(ctx context.Context, subject string) error {
	for _, pattern := range []string{
		"otp:code:" + subject + ":*",
		"otp:rl:" + subject + ":*",
	} {
		iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// --- admin session tokens (auth.TokenStore) ---

func (s *Store) SetToken(ctx context.Context, hash string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, tokenKey(hash), value, ttl).Err()
}

func (s *Store) GetToken(ctx context.Context, hash string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, tokenKey(hash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) DeleteToken(ctx context.Context, hash string) error {
	return s.rdb.Del(ctx, tokenKey(hash)).Err()
}
