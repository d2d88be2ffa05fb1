package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
)

const sweepBatch = 100

// Sweeper expires intents left undecided past the abandonment cutoff. Before
// expiring it asks the provider once more, so a decision that no webhook or poll
// carried is not lost.
type Sweeper struct {
	rec          *Reconciler
	intents      payments.IntentStore
	abandonAfter time.Duration
	interval     time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func NewSweeper(rec *Reconciler, intents payments.IntentStore, abandonAfter, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		rec:          rec,
		intents:      intents,
		abandonAfter: abandonAfter,
		interval:     interval,
		log:          observability.OrNop(logger),
		now:          time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SweepOnce processes one batch and returns how many intents it expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.intents.ListStale(ctx, s.now().Add(-s.abandonAfter), sweepBatch)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, in := range stale {
		out, err := s.rec.Resolve(ctx, in.ID, SourceSweeper)
		if err != nil {
			s.log.Warn("sweeper lookup failed, expiring anyway", zap.String("intent_id", in.ID), zap.Error(err))
		} else if out.Intent.Status.Terminal() {
			continue
		}
		out, err = s.rec.Apply(ctx, in.ID, payments.StatusExpired, SourceSweeper)
		if err != nil {
			s.log.Error("expire intent", zap.String("intent_id", in.ID), zap.Error(err))
			continue
		}
		if out.Changed {
			expired++
		}
	}
	return expired, nil
}
