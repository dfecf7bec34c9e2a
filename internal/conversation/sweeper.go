package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/realestate-lead-bot/internal/observability/metrics"
	"github.com/wolfman30/realestate-lead-bot/pkg/logging"
)

// DefaultSweepInterval is how often the sweeper checks for idle sessions.
const DefaultSweepInterval = 15 * time.Minute

// Sweeper periodically evicts idle sessions from a Store. It owns no goroutine of its
// own: the caller runs Run and stops it by cancelling the context.
type Sweeper struct {
	store    Store
	logger   *logging.Logger
	metrics  *metrics.BotMetrics
	maxIdle  time.Duration
	interval time.Duration
}

func NewSweeper(store Store, logger *logging.Logger) *Sweeper {
	if store == nil {
		panic("conversation: sweeper store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		maxIdle:  DefaultSessionTTL,
		interval: DefaultSweepInterval,
	}
}

func (s *Sweeper) WithMaxIdle(d time.Duration) *Sweeper {
	if d > 0 {
		s.maxIdle = d
	}
	return s
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.BotMetrics) *Sweeper {
	s.metrics = m
	return s
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single eviction pass and returns the number of sessions removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	evicted, remaining, err := s.store.EvictIdle(ctx, s.maxIdle)
	if err != nil {
		s.logger.Error("session sweep failed", "error", err, "evicted", evicted)
		return evicted
	}
	s.metrics.ObserveSweep(evicted, remaining)
	if evicted > 0 {
		s.logger.Info("idle sessions evicted", "evicted", evicted, "remaining", remaining)
	}
	return evicted
}
