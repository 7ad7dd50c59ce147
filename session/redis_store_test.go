package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*RedisStore, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, RedisOptions{Prefix: "phs"})
	return store, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisStoreSaveGetAndIndex(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	sess := testSession()

	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UserID != sess.UserID || got.Location == nil || got.Location.City != "Austin" {
		t.Fatalf("unexpected session %+v", got)
	}

	members, err := rdb.SMembers(ctx, store.userKey(sess.UserID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 1 || members[0] != sess.ID {
		t.Fatalf("expected active index [%s], got %v", sess.ID, members)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisStoreDeactivateIdempotentAndRetained(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	sess := testSession()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	at := sess.CreatedAt.Add(time.Hour)
	changed, err := store.Deactivate(ctx, sess.ID, StateLoggedOut, at)
	if err != nil || !changed {
		t.Fatalf("first deactivate: changed=%v err=%v", changed, err)
	}
	changed, err = store.Deactivate(ctx, sess.ID, StateRevoked, at.Add(time.Minute))
	if err != nil || changed {
		t.Fatalf("second deactivate: changed=%v err=%v", changed, err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("inactive record must be retained: %v", err)
	}
	if got.Active || got.State != StateLoggedOut || !got.DeactivatedAt.Equal(at) {
		t.Fatalf("unexpected inactive record %+v", got)
	}

	members, err := rdb.SMembers(ctx, store.userKey(sess.UserID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty active index, got %v", members)
	}

	if _, err := store.Deactivate(ctx, "missing", StateLoggedOut, at); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisStoreListActiveDropsStaleIDs(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	a := testSession()
	b := testSession()
	b.ID = "sid-2"
	for _, s := range []*Session{a, b} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := rdb.SAdd(ctx, store.userKey(a.UserID), "ghost").Err(); err != nil {
		t.Fatalf("seed ghost id: %v", err)
	}

	active, err := store.ListActiveByUser(ctx, a.UserID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
	isMember, err := rdb.SIsMember(ctx, store.userKey(a.UserID), "ghost").Result()
	if err != nil {
		t.Fatalf("sismember: %v", err)
	}
	if isMember {
		t.Fatalf("stale id should have been removed from the index")
	}
}

func TestRedisStoreUpdatePassesThroughErrors(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	sess := testSession()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := store.Update(ctx, sess.ID, func(s *Session) error { return ErrSessionInactive })
	if !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected fn error, got %v", err)
	}

	bump := sess.LastActivity.Add(time.Minute)
	updated, err := store.Update(ctx, sess.ID, func(s *Session) error {
		s.LastActivity = bump
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.LastActivity.Equal(bump) {
		t.Fatalf("expected bumped activity")
	}
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	if err := rdb.Set(ctx, store.key("sid-corrupt"), []byte("bad"), 0).Err(); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	if _, err := store.Get(ctx, "sid-corrupt"); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt, got %v", err)
	}
}

func TestRedisStoreLockUserIsExclusive(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	unlock, err := store.LockUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = store.LockUser(waitCtx, "u-1")
	cancel()
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	other, err := store.LockUser(ctx, "u-2")
	if err != nil {
		t.Fatalf("lock for other user: %v", err)
	}
	other()

	unlock()
	again, err := store.LockUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestManagerOverRedisEvicts(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	clock := newFakeClock()

	p := DefaultPolicy()
	p.MaxConcurrent = 2
	m, err := NewManager(store, WithPolicy(p), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	first := mustCreate(t, m, "u-1", true)
	clock.Advance(time.Minute)
	mustCreate(t, m, "u-1", true)
	clock.Advance(time.Minute)
	third := mustCreate(t, m, "u-1", true)

	if len(third.EvictedSessionIDs) != 1 || third.EvictedSessionIDs[0] != first.SessionID {
		t.Fatalf("expected first session evicted, got %v", third.EvictedSessionIDs)
	}
	active, err := store.ListActiveByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
	res, err := m.Validate(ctx, first.SessionID)
	if err != nil || res.Reason != ReasonNotFound {
		t.Fatalf("evicted session must not validate: %+v %v", res, err)
	}
}

func TestRedisStoreLockHandoffUnderContention(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	m, err := NewManager(store, WithClock(newFakeClock().Now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	const workers = 30
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(ctx, CreateRequest{UserID: "u-1", Device: testDevice(), MFAVerified: true, LoginMethod: "password"})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("%d of %d creates failed, first: %v", len(errs), workers, errs[0])
	}
	active, err := store.ListActiveByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != DefaultPolicy().MaxConcurrent {
		t.Fatalf("expected %d active sessions, got %d", DefaultPolicy().MaxConcurrent, len(active))
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(lockBackoffMax)
		if d < lockBackoffMax/2 || d > lockBackoffMax {
			t.Fatalf("jitter(%s) = %s out of range", lockBackoffMax, d)
		}
	}
}

func TestCreateClampsOversizedDeviceFieldsOnEveryStore(t *testing.T) {
	redisStore, _, done := newSessionStoreTest(t)
	defer done()

	long := strings.Repeat("a", 70000)
	dev := testDevice()
	dev.UserAgent = long
	dev.Platform = strings.Repeat("é", 400)

	clamped := testDevice()
	clamped.UserAgent = long[:MaxDeviceFieldLen]
	clamped.Platform = strings.Repeat("é", MaxDeviceFieldLen/2)

	for name, store := range map[string]Store{"memory": NewMemoryStore(), "redis": redisStore} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m, err := NewManager(store, WithClock(newFakeClock().Now))
			if err != nil {
				t.Fatalf("new manager: %v", err)
			}

			res, err := m.Create(ctx, CreateRequest{UserID: "u-long", Device: dev, MFAVerified: true, LoginMethod: "password"})
			if err != nil {
				t.Fatalf("create with oversized user agent: %v", err)
			}
			got, err := store.Get(ctx, res.SessionID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.UserAgent != clamped.UserAgent {
				t.Fatalf("user agent stored with %d bytes, want %d", len(got.UserAgent), MaxDeviceFieldLen)
			}
			if got.DeviceFingerprint != Fingerprint(clamped) {
				t.Fatalf("fingerprint must be computed over clamped fields")
			}

			_, err = m.Create(ctx, CreateRequest{UserID: strings.Repeat("u", MaxIdentifierLen+1), Device: testDevice()})
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("oversized user id: expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}
