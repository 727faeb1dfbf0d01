package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/address"
	"github.com/serveroute/serveroute/internal/attempt"
	"github.com/serveroute/serveroute/internal/config"
	"github.com/serveroute/serveroute/internal/dcn"
	"github.com/serveroute/serveroute/internal/lock"
	"github.com/serveroute/serveroute/internal/metrics"
	"github.com/serveroute/serveroute/internal/photo"
	"github.com/serveroute/serveroute/internal/resilience"
	"github.com/serveroute/serveroute/internal/store"
)

// appEnv holds the store and services shared by the subcommands.
type appEnv struct {
	Store      store.Store
	Normalizer *address.Normalizer
	Processor  *dcn.Processor
	Reviewer   *dcn.Reviewer
	Attempts   *attempt.Service
	Metrics    *metrics.Metrics

	redis *redis.Client
	gcs   *photo.GCS
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.gcs != nil {
		_ = e.gcs.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "serveroute.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromConfig(cfg.Retry)
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules, err := config.LoadRules(cfg.Matching.RulesFile)
	if err != nil {
		env.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	env.Metrics = metrics.New(reg)

	env.Normalizer = address.NewNormalizer(rules.Abbreviations)
	m := cfg.Matching
	resolver := dcn.NewResolver(env.Normalizer, dcn.MatchConfig{
		StreetExactConfidence: m.StreetExactConfidence,
		StreetMinLength:       m.StreetMinLength,
		FuzzyFloor:            m.FuzzyFloor,
	})
	parser := dcn.NewParser(dcn.NewHeaderMapper(rules.HeaderAliases))
	env.Processor = dcn.NewProcessor(st, parser, resolver, dcn.ProcessConfig{
		AutoMatchThreshold:  m.AutoMatchThreshold,
		PendingReviewFloor:  m.PendingReviewFloor,
		MaxValidationErrors: m.MaxValidationErrors,
	}, retryConfig(), env.Metrics)
	env.Reviewer = dcn.NewReviewer(st, env.Normalizer, env.Metrics)

	classifier, err := attempt.NewClassifier(cfg.Attempts.Timezone, cfg.Attempts.ServiceStartHour, cfg.Attempts.ServiceEndHour)
	if err != nil {
		env.Close()
		return nil, err
	}
	locks, err := env.initLocks(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	photos, err := env.initPhotos(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Attempts = attempt.NewService(st, attempt.Options{
		Classifier: classifier,
		Locks:      locks,
		Photos:     photos,
		GPSTimeout: cfg.Attempts.GPSTimeout(),
		Metrics:    env.Metrics,
	})

	return env, nil
}

func (e *appEnv) initLocks(ctx context.Context) (lock.Locker, error) {
	if cfg.Lock.Driver != "redis" {
		return lock.NewMemory(), nil
	}
	rdb, err := lock.DialRedis(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisDB)
	if err != nil {
		return nil, err
	}
	e.redis = rdb
	ttl := time.Duration(cfg.Lock.TTLSecs) * time.Second
	wait := time.Duration(cfg.Attempts.CaptureLockWaitSec) * time.Second
	zap.L().Info("using redis capture locks", zap.String("addr", cfg.Lock.RedisAddr))
	return lock.NewRedis(rdb, ttl, wait), nil
}

func (e *appEnv) initPhotos(ctx context.Context) (photo.Store, error) {
	p := cfg.Photos
	if p.Driver != "gcs" {
		return photo.NewLocal(p.LocalDir, p.PublicBaseURL)
	}
	g, err := photo.NewGCS(ctx, p.Bucket, p.CredentialsFile, p.PublicBaseURL, retryConfig())
	if err != nil {
		return nil, err
	}
	e.gcs = g
	return g, nil
}
