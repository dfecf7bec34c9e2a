package mainconfig

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/realestate-lead-bot/internal/api/router"
	appconfig "github.com/wolfman30/realestate-lead-bot/internal/config"
	"github.com/wolfman30/realestate-lead-bot/internal/conversation"
	httpmiddleware "github.com/wolfman30/realestate-lead-bot/internal/http/middleware"
	"github.com/wolfman30/realestate-lead-bot/internal/observability/metrics"
	"github.com/wolfman30/realestate-lead-bot/pkg/logging"
)

// App is the wired bot service shared by the HTTP server and the Lambda entrypoint.
type App struct {
	Handler http.Handler
	Sweeper *conversation.Sweeper
	// Limiter is nil when rate limiting is disabled.
	Limiter *httpmiddleware.RateLimiter

	closers []func() error
}

// Close releases backend connections.
func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build centralizes store, responder and router wiring so both binaries share it.
// A nil registry falls back to a fresh one exposed on /metrics.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg *prometheus.Registry) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	app := &App{}

	store, err := newStore(ctx, cfg, logger, app)
	if err != nil {
		return nil, err
	}

	botMetrics := metrics.NewBotMetrics(reg)
	orchestratorCfg := conversation.OrchestratorConfig{
		ResponderTimeout: cfg.ResponderTimeout,
		PhoneRegion:      cfg.DefaultPhoneRegion,
		Metrics:          botMetrics,
		Logger:           logger,
	}
	if cfg.ResponderURL != "" {
		responder, err := conversation.NewHTTPResponder(conversation.ResponderConfig{
			URL:         cfg.ResponderURL,
			LeadInfoURL: cfg.ResponderLeadInfoURL,
			Timeout:     cfg.ResponderTimeout,
		})
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		orchestratorCfg.Responder = responder
		logger.Info("external responder enabled", "lead_info", cfg.ResponderLeadInfoURL != "")
	} else {
		logger.Info("no external responder configured, using fallback replies only")
	}
	orchestrator := conversation.NewOrchestrator(store, orchestratorCfg)

	app.Sweeper = conversation.NewSweeper(store, logger).
		WithMaxIdle(cfg.SessionTTL).
		WithInterval(cfg.SessionSweepInterval).
		WithMetrics(botMetrics)

	if cfg.RateLimitRPS > 0 {
		app.Limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	app.Handler = router.New(&router.Config{
		Logger:             logger,
		BotHandler:         conversation.NewHandler(orchestrator, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        app.Limiter,
	})
	return app, nil
}

func newStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, app *App) (conversation.Store, error) {
	if !cfg.UsesRedis() {
		logger.Info("using in-memory session store", "ttl", cfg.SessionTTL.String())
		return conversation.NewMemoryStore(), nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mainconfig: connect redis %s: %w", cfg.RedisAddr, err)
	}
	app.closers = append(app.closers, client.Close)
	logger.Info("using redis session store", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL.String())
	return conversation.NewRedisStore(client, cfg.SessionTTL), nil
}
