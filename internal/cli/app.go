package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/connector/internal/client"
	"github.com/roach88/connector/internal/config"
	"github.com/roach88/connector/internal/negotiation"
	"github.com/roach88/connector/internal/pipeline"
	"github.com/roach88/connector/internal/policy"
	"github.com/roach88/connector/internal/resourcesync"
	"github.com/roach88/connector/internal/routes"
	"github.com/roach88/connector/internal/store"
	"github.com/roach88/connector/internal/telemetry"
)

// app is one connector instance assembled from its configuration. Every
// command that touches the store or a peer goes through it.
type app struct {
	cfg      config.Config
	holder   *config.Holder
	store    *store.Store
	redis    *redis.Client
	verifier *policy.Verifier
	engine   *negotiation.Engine
	client   *client.Client
	syncer   *resourcesync.Syncer
}

func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, codedError(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, codedError(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	a := &app{cfg: cfg, holder: config.NewHolder(cfg), store: st}

	httpClient := telemetry.InstrumentClient(&http.Client{Timeout: cfg.ClientTimeout})
	verifierOpts := []policy.Option{
		policy.WithSettings(a.holder),
		policy.WithDuties(policy.NewDutyExecutor(st, httpClient, nil)),
	}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, codedError(ExitCommandError, ErrCodeConfig, "redis unreachable", err)
		}
		slog.Debug("access counter on redis", "addr", cfg.RedisAddr)
		verifierOpts = append(verifierOpts, policy.WithCounter(policy.NewRedisCounter(a.redis)))
	}

	a.verifier = policy.NewVerifier(st, verifierOpts...)
	a.engine = negotiation.New(st, a.holder)
	a.client = client.New(httpClient, a.holder)
	a.syncer = resourcesync.New(st, a.client, client.Endpoint,
		resourcesync.WithTimeout(cfg.ClientTimeout),
		resourcesync.WithRetention(a.verifier),
		resourcesync.WithAnnouncer(a.client))
	return a, nil
}

// dispatcher wires the inbound message routes.
func (a *app) dispatcher() (*pipeline.Dispatcher, error) {
	h := routes.New(routes.Deps{
		Store:      a.store,
		Negotiator: a.engine,
		Verifier:   a.verifier,
		Updater:    a.syncer,
		Describer:  routes.NewCatalog(a.holder, a.store, client.Endpoint),
	})
	reg, err := h.Registry()
	if err != nil {
		return nil, err
	}
	return pipeline.NewDispatcher(reg, a.holder, pipeline.WithTokenVerifier(a.holder)), nil
}

// sweep deletes artifact data whose retention ended.
func (a *app) sweep(ctx context.Context) {
	n, err := a.verifier.SweepDeletions(ctx)
	switch {
	case err != nil:
		slog.Warn("deletion sweep failed", "deleted", n, "error", err)
	case n > 0:
		slog.Info("deletion sweep", "deleted", n)
	}
}

func (a *app) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("error closing redis client", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
