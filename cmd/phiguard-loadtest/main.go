package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/phiguard"
	"github.com/MrEthical07/phiguard/phi"
	"github.com/MrEthical07/phiguard/policy"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var (
		users       = flag.Int("users", 64, "distinct users logging in")
		logins      = flag.Int("logins", 20000, "session creations in the admission phase")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations in the validate and access phases")
		maxSessions = flag.Int("max-sessions", 3, "concurrent sessions allowed per user")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *logins <= 0 || *concurrency <= 0 || *ops <= 0 || *maxSessions <= 0 {
		fmt.Fprintln(os.Stderr, "users, logins, concurrency, ops and max-sessions must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	key, err := phi.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}

	cfg := phiguard.DefaultConfig()
	cfg.PHI.Key = key
	cfg.Session.MaxConcurrent = *maxSessions
	cfg.Session.LockWait = 30 * time.Second
	cfg.Audit.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := phiguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(zap.NewNop()).
		BuildContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	userIDs := make([]string, *users)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("user-%d", i)
		if _, err := engine.AssignRole(ctx, userIDs[i], policy.CatalogID("role", policy.RoleBillingSpecialist), "loadtest", nil); err != nil {
			fmt.Fprintf(os.Stderr, "assign role: %v\n", err)
			os.Exit(1)
		}
	}

	var (
		sidMu sync.Mutex
		sids  []string
	)
	admitStats := runPhase(*logins, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		res, err := engine.CreateSession(ctx, phiguard.CreateSessionRequest{
			UserID:      userIDs[r.Intn(len(userIDs))],
			MFAVerified: true,
			LoginMethod: "password",
			Device:      phiguard.DeviceInfo{UserAgent: "phiguard-loadtest", IPAddress: "10.0.0.1"},
		})
		if err != nil {
			return err
		}
		sidMu.Lock()
		sids = append(sids, res.SessionID)
		sidMu.Unlock()
		return nil
	})

	violations := 0
	for _, id := range userIDs {
		active, err := engine.ActiveSessions(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "active sessions: %v\n", err)
			os.Exit(1)
		}
		if len(active) > *maxSessions {
			violations++
			fmt.Printf("user %s holds %d active sessions\n", id, len(active))
		}
	}

	validateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		_, err := engine.ValidateSession(ctx, sids[r.Intn(len(sids))])
		return err
	})

	accessStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand, _ int) error {
		_, err := engine.CheckAccess(ctx, userIDs[r.Intn(len(userIDs))], policy.ResourceBilling, policy.ActionRead, nil)
		return err
	})

	snap := engine.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("admit", admitStats)
	printStats("validate", validateStats)
	printStats("access", accessStats)
	fmt.Printf("sessions created=%d evicted=%d valid=%d invalid=%d\n",
		snap.Counters[phiguard.MetricSessionCreated],
		snap.Counters[phiguard.MetricSessionEvicted],
		snap.Counters[phiguard.MetricSessionValidated],
		snap.Counters[phiguard.MetricSessionInvalid],
	)
	fmt.Printf("concurrency limit violations=%d\n", violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func runPhase(ops, concurrency int, seed int64, op func(*rand.Rand, int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
