package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/realestate-lead-bot/internal/leads"
)

const (
	sessionKeyPrefix = "bot_session:"
	maxWatchRetries  = 5
	sessionScanBatch = 100
)

// RedisStore keeps each session as a JSON document under its own key. Every write
// resets the key's expiry to the TTL, so Redis drops idle sessions on its own; EvictIdle
// also sweeps sessions whose LastActivity is older than the requested idle window.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("inmobot.internal.conversation.redis_store"),
		now:    time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	if now != nil {
		s.now = now
	}
	return s
}

func sessionKey(phone string) string {
	return sessionKeyPrefix + phone
}

func (s *RedisStore) Get(ctx context.Context, phone string) (Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session.get")
	defer span.End()

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		sess, found, err := s.read(ctx, s.redis, phone)
		if err != nil {
			span.RecordError(err)
			return Session{}, err
		}
		if found {
			return sess, nil
		}

		created := newSession(phone, s.now().UTC())
		data, err := json.Marshal(created)
		if err != nil {
			return Session{}, fmt.Errorf("conversation: marshal session: %w", err)
		}
		ok, err := s.redis.SetNX(ctx, sessionKey(phone), data, s.ttl).Result()
		if err != nil {
			span.RecordError(err)
			return Session{}, fmt.Errorf("conversation: create session: %w", err)
		}
		if ok {
			return created, nil
		}
		// Another caller created it first; it may be gone again by the next read.
	}
	err := fmt.Errorf("conversation: create session: %w", redis.TxFailedErr)
	span.RecordError(err)
	return Session{}, err
}

func (s *RedisStore) Upsert(ctx context.Context, phone string, update SessionUpdate) (Session, error) {
	return s.mutate(ctx, "conversation.session.upsert", phone, func(sess *Session, now time.Time) {
		sess.applyUpdate(update, now)
	})
}

func (s *RedisStore) AppendTurn(ctx context.Context, phone string, role Role, content string) (Session, error) {
	return s.mutate(ctx, "conversation.session.append_turn", phone, func(sess *Session, now time.Time) {
		sess.appendTurn(role, content, now)
	})
}

func (s *RedisStore) MergeLead(ctx context.Context, phone string, update leads.Update) (Session, error) {
	return s.mutate(ctx, "conversation.session.merge_lead", phone, func(sess *Session, now time.Time) {
		sess.mergeLead(update, now)
	})
}

func (s *RedisStore) RecordExchange(ctx context.Context, phone, text, reply string, lead leads.Snapshot) (Session, error) {
	return s.mutate(ctx, "conversation.session.record_exchange", phone, func(sess *Session, now time.Time) {
		sess.recordExchange(text, reply, lead, now)
	})
}

func (s *RedisStore) Clear(ctx context.Context, phone string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.session.clear")
	defer span.End()
	if err := s.redis.Del(ctx, sessionKey(phone)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: clear session: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session.list")
	defer span.End()

	var out []Session
	err := s.scan(ctx, func(phone string) error {
		sess, found, err := s.read(ctx, s.redis, phone)
		if err != nil {
			return err
		}
		if found {
			out = append(out, sess)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

func (s *RedisStore) EvictIdle(ctx context.Context, maxIdle time.Duration) (int, int, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session.evict_idle")
	defer span.End()

	now := s.now().UTC()
	evicted, remaining := 0, 0
	err := s.scan(ctx, func(phone string) error {
		sess, found, err := s.read(ctx, s.redis, phone)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if sess.idleSince(now) <= maxIdle {
			remaining++
			return nil
		}
		if err := s.deleteIfUnchanged(ctx, phone, sess.LastActivity); err != nil {
			return err
		}
		evicted++
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return evicted, remaining, err
	}
	return evicted, remaining, nil
}

// deleteIfUnchanged removes the session unless it was touched after lastActivity.
func (s *RedisStore) deleteIfUnchanged(ctx context.Context, phone string, lastActivity time.Time) error {
	key := sessionKey(phone)
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		sess, found, err := s.read(ctx, tx, phone)
		if err != nil || !found || !sess.LastActivity.Equal(lastActivity) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("conversation: evict session: %w", err)
	}
	return nil
}

// mutate runs fn against the stored session inside an optimistic WATCH transaction,
// creating the session first if it does not exist.
func (s *RedisStore) mutate(ctx context.Context, spanName, phone string, fn func(*Session, time.Time)) (Session, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	key := sessionKey(phone)
	var out Session
	txf := func(tx *redis.Tx) error {
		now := s.now().UTC()
		sess, found, err := s.read(ctx, tx, phone)
		if err != nil {
			return err
		}
		if !found {
			sess = newSession(phone, now)
		}
		fn(&sess, now)
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("conversation: marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			out = sess
		}
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		span.RecordError(err)
		return Session{}, fmt.Errorf("conversation: persist session: %w", err)
	}
	err := fmt.Errorf("conversation: persist session: %w", redis.TxFailedErr)
	span.RecordError(err)
	return Session{}, err
}

// sessionGetter is satisfied by both *redis.Client and *redis.Tx.
type sessionGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, cmd sessionGetter, phone string) (Session, bool, error) {
	data, err := cmd.Get(ctx, sessionKey(phone)).Bytes()
	if err == redis.Nil {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("conversation: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false, fmt.Errorf("conversation: decode session: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []Turn{}
	}
	return sess, true, nil
}

func (s *RedisStore) scan(ctx context.Context, fn func(phone string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, sessionKeyPrefix+"*", sessionScanBatch).Result()
		if err != nil {
			return fmt.Errorf("conversation: scan sessions: %w", err)
		}
		for _, key := range keys {
			if err := fn(strings.TrimPrefix(key, sessionKeyPrefix)); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
