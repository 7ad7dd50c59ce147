package phiguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/phiguard/internal/audit"
	"github.com/MrEthical07/phiguard/jwt"
	"github.com/MrEthical07/phiguard/phi"
	"github.com/MrEthical07/phiguard/policy"
	"github.com/MrEthical07/phiguard/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder can produce one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	sessionStore   session.Store
	policyRepo     policy.Repository
	registry       *policy.Registry
	locator        session.Locator
	locationPolicy policy.LocationPolicy

	logger    *zap.Logger
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs sessions with a RedisStore on client. Ignored when
// WithSessionStore is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

// WithPolicyRepository supplies roles and assignments. The repository is used
// as-is; default roles are not seeded into it.
func (b *Builder) WithPolicyRepository(repo policy.Repository) *Builder {
	b.policyRepo = repo
	return b
}

// WithRegistry replaces the default resource registry.
func (b *Builder) WithRegistry(registry *policy.Registry) *Builder {
	b.registry = registry
	return b
}

func (b *Builder) WithLocator(locator session.Locator) *Builder {
	b.locator = locator
	return b
}

// WithLocationPolicy overrides the location gate derived from
// Policy.SecureNetworks.
func (b *Builder) WithLocationPolicy(p policy.LocationPolicy) *Builder {
	b.locationPolicy = p
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now in every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build is BuildContext with a background context.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext validates the configuration and wires every component. A
// missing or malformed PHI key fails with ErrKeyConfiguration; the Engine
// must not start without one. ctx bounds backend connection checks.
func (b *Builder) BuildContext(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}

	// -------- PHI CODEC --------
	codec, err := newCodec(cfg.PHI, logger.Named("phi"))
	if err != nil {
		logger.Error("phi key configuration invalid", zap.String("key_env", cfg.PHI.KeyEnv), zap.Error(err))
		return nil, err
	}

	engine := &Engine{
		config:  cloneConfig(cfg),
		logger:  logger,
		codec:   codec,
		metrics: NewMetrics(cfg.Metrics),
	}
	fail := func(err error) (*Engine, error) {
		_ = engine.runClosers()
		return nil, err
	}

	// -------- SESSIONS --------
	store, err := b.buildSessionStore(ctx, cfg, engine)
	if err != nil {
		return fail(err)
	}
	sessions, err := session.NewManager(store,
		session.WithPolicy(cfg.sessionPolicy()),
		session.WithLocator(b.locator),
		session.WithClock(b.clock),
		session.WithLogger(logger.Named("session")),
	)
	if err != nil {
		return fail(err)
	}
	engine.sessions = sessions

	// -------- ACCESS POLICY --------
	registry := b.registry
	if registry == nil {
		registry = policy.DefaultRegistry()
	}
	repo, err := b.buildPolicyRepository(ctx, cfg, registry, engine)
	if err != nil {
		return fail(err)
	}
	engine.roles = roleAdminFor(repo)

	locationPolicy := b.locationPolicy
	if locationPolicy == nil && len(cfg.Policy.SecureNetworks) > 0 {
		ipList, err := policy.NewIPListLocationPolicy(cfg.Policy.SecureNetworks...)
		if err != nil {
			return fail(err)
		}
		locationPolicy = ipList
	}
	zone, err := time.LoadLocation(cfg.Policy.TimeZone)
	if err != nil {
		return fail(err)
	}
	hours, err := cfg.businessHours()
	if err != nil {
		return fail(err)
	}

	policyEngine, err := policy.NewEngine(repo,
		policy.WithRegistry(registry),
		policy.WithLocationPolicy(locationPolicy),
		policy.WithTimeZone(zone),
		policy.WithBusinessHours(hours),
		policy.WithFanOutLimits(cfg.Policy.MaxRolesPerUser, cfg.Policy.MaxPermissionsPerRole),
		policy.WithClock(b.clock),
		policy.WithLogger(logger.Named("policy")),
	)
	if err != nil {
		return fail(err)
	}
	engine.policy = policyEngine

	// -------- SESSION TOKENS --------
	if cfg.Token.Enabled {
		tm, err := jwt.NewManager(jwt.Config{
			TTL:           cfg.Token.TTL,
			SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Token.SigningMethod)),
			PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
			PublicKey:     cloneBytes(cfg.Token.PublicKey),
			Issuer:        cfg.Token.Issuer,
			Audience:      cfg.Token.Audience,
			Leeway:        cfg.Token.Leeway,
			Clock:         b.clock,
		})
		if err != nil {
			return fail(fmt.Errorf("session tokens: %w", err))
		}
		engine.tokens = tm
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.LogEvents {
		sink = audit.NewZapSink(logger)
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	b.built = true

	return engine, nil
}

func (b *Builder) buildSessionStore(ctx context.Context, cfg Config, engine *Engine) (session.Store, error) {
	if b.sessionStore != nil {
		return b.sessionStore, nil
	}

	client := b.redis
	if client == nil && cfg.Redis.Addr != "" {
		owned := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		engine.closers = append(engine.closers, owned.Close)
		client = owned
	}
	if client == nil {
		engine.logger.Warn("no redis configured; sessions are held in process memory")
		return session.NewMemoryStore(), nil
	}

	store := session.NewRedisStore(client, session.RedisOptions{
		Prefix:            cfg.Session.RedisPrefix,
		LockTTL:           cfg.Session.LockTTL,
		InactiveRetention: cfg.Session.InactiveRetention,
	})
	if _, err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return store, nil
}

func (b *Builder) buildPolicyRepository(ctx context.Context, cfg Config, registry *policy.Registry, engine *Engine) (policy.Repository, error) {
	if b.policyRepo != nil {
		return b.policyRepo, nil
	}

	if cfg.Postgres.DSN == "" {
		repo := policy.NewMemoryRepository(registry)
		if cfg.Policy.SeedDefaultRoles {
			if err := policy.SeedDefaults(repo); err != nil {
				return nil, err
			}
		}
		return repo, nil
	}

	db, err := policy.OpenPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	engine.closers = append(engine.closers, db.Close)

	repo := policy.NewPostgresRepository(db, registry)
	if cfg.Postgres.EnsureSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}
	if cfg.Policy.SeedDefaultRoles {
		for _, role := range policy.DefaultRoles() {
			if err := repo.SaveRole(ctx, role); err != nil {
				return nil, fmt.Errorf("seed role %q: %w", role.Name, err)
			}
		}
	}
	return repo, nil
}

func newCodec(cfg PHIConfig, logger *zap.Logger) (*phi.Codec, error) {
	opts := []phi.Option{phi.WithVersion(cfg.Version), phi.WithLogger(logger)}
	if cfg.Key != "" {
		return phi.NewCodec(cfg.Key, opts...)
	}
	key, err := phi.KeyFromEnv(cfg.KeyEnv)
	if err != nil {
		return nil, err
	}
	return phi.NewCodecFromKey(key, opts...)
}

func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
