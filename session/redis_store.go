package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrEthical07/phiguard/internal"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "phs"
	defaultLockTTL     = 5 * time.Second
	maxTxRetries       = 8

	lockBackoffMin = 2 * time.Millisecond
	lockBackoffMax = 25 * time.Millisecond
)

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every key. Defaults to "phs".
	Prefix string
	// LockTTL bounds how long a crashed holder can block a user's admissions.
	LockTTL time.Duration
	// InactiveRetention, when > 0, expires deactivated records after this long.
	// Zero keeps them indefinitely.
	InactiveRetention time.Duration
}

// RedisStore is a Redis-backed Store. Each session is one binary record;
// a per-user set indexes the active ones.
//
// Keys:
//
//	<prefix>:<sessionID>   encoded Session
//	<prefix>u:<userID>     set of active session ids
//	<prefix>l:<userID>     admission lock token
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	lockTTL   time.Duration
	retention time.Duration

	// released holds one channel per contended lock key, closed when this
	// process releases the lock so local waiters retry at once.
	released sync.Map
}

// NewRedisStore creates a RedisStore on the given client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &RedisStore{
		redis:     client,
		prefix:    opts.Prefix,
		lockTTL:   opts.LockTTL,
		retention: opts.InactiveRetention,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

func (s *RedisStore) lockKey(userID string) string {
	return s.prefix + "l:" + userID
}

// Get fetches and decodes one session.
//
//	Performance: 1 Redis GET.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return sess, nil
}

// Save writes the record and maintains the active index in one MULTI.
//
//	Performance: 1 MULTI/EXEC (SET + SADD/SREM).
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidRequest
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrite(ctx, pipe, sess, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) queueWrite(ctx context.Context, pipe redis.Pipeliner, sess *Session, data []byte) {
	if sess.Active {
		pipe.Set(ctx, s.key(sess.ID), data, 0)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		return
	}
	pipe.Set(ctx, s.key(sess.ID), data, s.retention)
	pipe.SRem(ctx, s.userKey(sess.UserID), sess.ID)
}

// ListActiveByUser reads the active index and drops ids whose records are
// gone or no longer active.
//
//	Performance: 1 SMEMBERS + 1 pipelined GET batch (+1 SREM when stale).
func (s *RedisStore) ListActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, decErr)
		}
		if !sess.Active || sess.UserID != userID {
			stale = append(stale, ids[i])
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return sessions, nil
}

// Update runs fn under WATCH on the session key and retries on contention.
//
//	Performance: WATCH + GET + MULTI/EXEC per attempt.
func (s *RedisStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) (*Session, error) {
	key := s.key(sessionID)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var updated *Session
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrSessionNotFound
				}
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}

			sess, err := Decode(data)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
			}
			originalUser := sess.UserID
			if err := fn(sess); err != nil {
				return err
			}
			sess.UserID = originalUser

			encoded, err := Encode(sess)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.queueWrite(ctx, pipe, sess, encoded)
				return nil
			})
			if err != nil {
				if errors.Is(err, redis.TxFailedErr) {
					return err
				}
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}

			updated = sess
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%w: update contention on session", ErrStoreUnavailable)
}

// Deactivate is an idempotent Update that moves an active record to state.
func (s *RedisStore) Deactivate(ctx context.Context, sessionID string, state State, at time.Time) (bool, error) {
	var changed bool
	if _, err := s.Update(ctx, sessionID, deactivateFunc(state, at, &changed)); err != nil {
		return false, err
	}
	return changed, nil
}

// LockUser acquires the user's admission lock with SET NX PX, polling with
// jittered backoff until ctx is done. Waiters in this process also wake as
// soon as a local holder releases. Release compares the token before
// deleting.
func (s *RedisStore) LockUser(ctx context.Context, userID string) (func(), error) {
	token, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	key := s.lockKey(userID)
	value := token.String()
	backoff := lockBackoffMin

	for {
		wake, _ := s.released.LoadOrStore(key, make(chan struct{}))

		ok, err := s.redis.SetNX(ctx, key, value, s.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if ok {
			return func() {
				_ = releaseLockLua.Run(context.Background(), s.redis, []string{key}, value).Err()
				if ch, loaded := s.released.LoadAndDelete(key); loaded {
					close(ch.(chan struct{}))
				}
			}, nil
		}

		timer := time.NewTimer(jitter(backoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrLockTimeout
		case <-wake.(chan struct{}):
			timer.Stop()
		case <-timer.C:
		}
		if backoff < lockBackoffMax {
			backoff = min(backoff*2, lockBackoffMax)
		}
	}
}

// jitter returns a duration in [d/2, d].
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + rand.N(half+1)
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}
