package recoveryinfra

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/recovery"
)

const putMaxRetries = 4

// RedisCodeStore keeps one JSON-encoded session per email and versions every
// write. Writes run inside WATCH/MULTI so a concurrent change aborts them.
type RedisCodeStore struct {
	client redis.UniversalClient
	prefix string
	grace  time.Duration
	clock  kernel.Clock
}

var _ recovery.CodeStore = (*RedisCodeStore)(nil)

// NewRedisCodeStore creates the store. Records are kept for grace past their
// last expiry so late requests still see the terminal state.
func NewRedisCodeStore(client redis.UniversalClient, prefix string, grace time.Duration, clock kernel.Clock) *RedisCodeStore {
	if prefix == "" {
		prefix = "recovery"
	}
	if grace <= 0 {
		grace = time.Hour
	}
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	return &RedisCodeStore{
		client: client,
		prefix: prefix,
		grace:  grace,
		clock:  clock,
	}
}

func (s *RedisCodeStore) key(email string) string {
	return s.prefix + ":session:" + email
}

// Ping checks connectivity for health checks.
func (s *RedisCodeStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return recovery.ErrStoreUnavailable(err)
	}
	return nil
}

func (s *RedisCodeStore) Put(ctx context.Context, session *recovery.Session) error {
	key := s.key(session.Email)

	for i := 0; i < putMaxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var version int64
			prev, err := s.read(ctx, tx, key)
			switch {
			case err == nil:
				version = prev.Version
			case !errx.IsCode(err, recovery.CodeSessionNotFound):
				return err
			}

			next := *session
			next.Version = version + 1
			if err := s.write(ctx, tx, key, &next); err != nil {
				return err
			}
			session.Version = next.Version
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return classify(err)
	}

	return recovery.ErrStoreUnavailable(errors.New("put kept conflicting")).WithDetail("email", session.Email)
}

func (s *RedisCodeStore) Get(ctx context.Context, email string) (*recovery.Session, error) {
	sess, err := s.read(ctx, s.client, s.key(email))
	if err != nil {
		return nil, classify(err)
	}
	return sess, nil
}

func (s *RedisCodeStore) CompareAndSwap(ctx context.Context, email string, expectedVersion int64, next *recovery.Session) error {
	key := s.key(email)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return recovery.ErrVersionConflict().
				WithDetail("expected", expectedVersion).
				WithDetail("actual", cur.Version)
		}

		written := *next
		written.Version = expectedVersion + 1
		if err := s.write(ctx, tx, key, &written); err != nil {
			return err
		}
		next.Version = written.Version
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return recovery.ErrVersionConflict()
	}
	return classify(err)
}

func (s *RedisCodeStore) Delete(ctx context.Context, email string, expectedVersion int64) error {
	key := s.key(email)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.read(ctx, tx, key)
		if errx.IsCode(err, recovery.CodeSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return recovery.ErrVersionConflict().
				WithDetail("expected", expectedVersion).
				WithDetail("actual", cur.Version)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return recovery.ErrVersionConflict()
	}
	return classify(err)
}

func (s *RedisCodeStore) read(ctx context.Context, c redis.Cmdable, key string) (*recovery.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, recovery.ErrSessionNotFound()
		}
		return nil, err
	}

	var sess recovery.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errx.Wrap(err, "corrupt recovery session", errx.TypeInternal)
	}
	return &sess, nil
}

func (s *RedisCodeStore) write(ctx context.Context, tx *redis.Tx, key string, sess *recovery.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errx.Wrap(err, "encode recovery session", errx.TypeInternal)
	}

	ttl := sess.RetainUntil(s.grace).Sub(s.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		return nil
	})
	return err
}

// classify passes domain errors through and reports everything else from
// Redis as a transient store failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *errx.Error
	if errors.As(err, &e) {
		return err
	}
	return recovery.ErrStoreUnavailable(err)
}
