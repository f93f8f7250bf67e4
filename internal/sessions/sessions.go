// Package sessions stores short-lived per-sender conversation history.
//
// History lives in Redis under conv:<sender> with a sliding TTL, so a
// conversation that goes quiet simply expires. The store is optional:
// with no backing KV every load returns empty and every save is a no-op,
// which degrades the relay to stateless single-turn replies.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by KV implementations for absent keys.
var ErrKeyNotFound = errors.New("sessions: key not found")

// KV is the minimal key-value surface the store needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Message is one stored conversation turn. Content is always plain
// text; audio and image turns are stored as bracketed descriptors.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Store reads and writes conversation history for senders.
type Store struct {
	kv       KV
	ttl      time.Duration
	maxTurns int
}

// New builds a Store over kv. A nil kv is allowed and produces a
// disconnected store. maxTurns caps the stored messages per sender.
func New(kv KV, ttl time.Duration, maxTurns int) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Store{kv: kv, ttl: ttl, maxTurns: maxTurns}
}

// Connected reports whether a backing KV is configured.
func (s *Store) Connected() bool {
	return s.kv != nil
}

// Ping checks the backing KV. A disconnected store pings clean.
func (s *Store) Ping(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.Ping(ctx)
}

func key(sender string) string {
	return "conv:" + sender
}

// Load returns the stored history for sender, oldest first.
// Missing keys, KV errors and corrupt payloads all degrade to empty
// history: a lost conversation thread is cheaper than a lost reply.
func (s *Store) Load(ctx context.Context, sender string) []Message {
	if s.kv == nil {
		return nil
	}
	raw, err := s.kv.Get(ctx, key(sender))
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			slog.Warn("session load failed", "sender", sender, "error", err)
		}
		return nil
	}
	var history []Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		slog.Warn("session payload corrupt, starting fresh", "sender", sender, "error", err)
		return nil
	}
	return history
}

// Append adds a user/assistant exchange to sender's history and writes
// it back with a refreshed TTL, trimming to the newest maxTurns
// messages. Failures are logged and swallowed.
func (s *Store) Append(ctx context.Context, sender, userText, assistantText string) {
	if s.kv == nil {
		return
	}
	history := s.Load(ctx, sender)
	history = append(history,
		Message{Role: "user", Content: userText},
		Message{Role: "assistant", Content: assistantText},
	)
	if len(history) > s.maxTurns {
		history = history[len(history)-s.maxTurns:]
	}
	data, err := json.Marshal(history)
	if err != nil {
		slog.Warn("session encode failed", "sender", sender, "error", err)
		return
	}
	if err := s.kv.SetEx(ctx, key(sender), string(data), s.ttl); err != nil {
		slog.Warn("session save failed", "sender", sender, "error", err)
	}
}

// redisKV adapts a go-redis client to the KV interface.
type redisKV struct {
	client *redis.Client
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return val, err
}

func (r *redisKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.SetEx(ctx, key, value, ttl).Err()
}

func (r *redisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// OpenRedis connects to the Redis instance at url (redis:// or
// rediss://) and returns it as a KV.
func OpenRedis(ctx context.Context, url string) (KV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisKV{client: client}, nil
}
