package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/audience"
	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/events"
	"github.com/sells-group/audience-cli/internal/household"
	"github.com/sells-group/audience-cli/internal/ingest"
	"github.com/sells-group/audience-cli/internal/metrics"
	"github.com/sells-group/audience-cli/internal/provider"
	"github.com/sells-group/audience-cli/internal/resilience"
	"github.com/sells-group/audience-cli/internal/signals"
	"github.com/sells-group/audience-cli/internal/store"
)

// appEnv holds the store, signal repository, and engine needed by the
// build/score/serve commands.
type appEnv struct {
	Store     store.Store
	Signals   *signals.PostgresRepository // nil without a signals database
	Providers *provider.Registry
	Breakers  *resilience.Breakers
	Metrics   *metrics.Recorder
	Events    events.Publisher
	Builder   *audience.Builder

	signalsPool *pgxpool.Pool // owned only when separate from the store
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Events != nil {
		e.Events.Close()
	}
	if e.signalsPool != nil {
		e.signalsPool.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured settings and results store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "audience.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// signalsPool returns the Postgres pool backing the signal repository. The
// store's pool is shared when both live in the same database.
func signalsPool(ctx context.Context, st store.Store) (db.Pool, *pgxpool.Pool, error) {
	url := cfg.Store.SignalsDatabaseURL()
	if url == "" {
		return nil, nil, eris.New("store.signals_url is required with the sqlite driver (AUDIENCE_STORE_SIGNALS_URL)")
	}
	if pg, ok := st.(*store.PostgresStore); ok && url == cfg.Store.DatabaseURL {
		return pg.Pool(), nil, nil
	}
	pool, err := db.Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool, nil
}

// initEnv opens the store and, when needSignals is set, the signal
// repository, provider registry, and household estimator. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string, needSignals bool) (*appEnv, error) {
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

	env.Metrics = metrics.New(metrics.WithNamespace(cfg.Metrics.Namespace))

	pub, err := events.New(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Events = pub

	opts := []audience.Option{
		audience.WithConfig(audience.Config{
			AnchorProvider:      cfg.Engine.AnchorProvider,
			AnchorSegment:       cfg.Engine.AnchorSegment,
			ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
			GridSize:            cfg.Scoring.GridSize,
			LookupBatchSize:     cfg.Engine.LookupBatchSize,
			LookupRatePerSec:    cfg.Engine.LookupRatePerSec,
		}),
		audience.WithMetrics(env.Metrics),
		audience.WithPublisher(pub),
	}

	var repo signals.Repository
	var estimator *household.Estimator
	if needSignals {
		pool, owned, err := signalsPool(ctx, st)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.signalsPool = owned

		env.Signals = signals.NewPostgresRepository(pool, cfg.Engine.PageSize)
		repo = env.Signals

		env.Breakers = resilience.NewBreakers(resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs))
		reg, err := provider.LoadRegistry(ctx, env.Signals, env.Breakers)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Providers = reg
		opts = append(opts, audience.WithNamer(reg), audience.WithSegmentValidator(reg))

		retry := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
		estimator = household.NewEstimator(env.Signals, household.Config{
			Fallback:    cfg.Engine.HouseholdFallback,
			BatchSize:   cfg.Engine.LookupBatchSize,
			Concurrency: cfg.Engine.LookupConcurrency,
			RatePerSec:  cfg.Engine.LookupRatePerSec,
			Retry:       retry,
		}, env.Metrics)

		zap.L().Debug("signal repository ready", zap.Strings("providers", reg.List()))
	}

	env.Builder = audience.New(st, repo, estimator, opts...)
	return env, nil
}

// newImporter creates a signal importer against the environment's repository.
func newImporter(env *appEnv) *ingest.Importer {
	ftp := ingest.NewFTPFetcher(time.Duration(cfg.Ingest.FTPTimeoutSecs) * time.Second)
	return ingest.NewImporter(env.Signals, ftp, cfg.Ingest.TempDir)
}
