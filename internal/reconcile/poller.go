package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/task"
)

// ErrPollExhausted is returned by Watch when attempts or wait ran out before the
// provider reached a terminal status.
var ErrPollExhausted = errors.New("reconcile: polling exhausted")

var errUndecided = errors.New("reconcile: payment not decided yet")

type PollConfig struct {
	Initial        time.Duration
	Multiplier     float64
	MaxInterval    time.Duration
	MaxAttempts    int
	MaxWait        time.Duration
	AttemptTimeout time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Initial <= 0 {
		c.Initial = 2 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 12
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 15 * time.Minute
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	return c
}

type Poller struct {
	rec     *Reconciler
	intents payments.IntentStore
	cfg     PollConfig
	log     *zap.Logger
}

func NewPoller(rec *Reconciler, intents payments.IntentStore, cfg PollConfig, logger *zap.Logger) *Poller {
	return &Poller{rec: rec, intents: intents, cfg: cfg.withDefaults(), log: observability.OrNop(logger)}
}

// Watch polls the provider for intentID until it reaches a terminal status. The
// first poll runs immediately; later ones back off exponentially up to MaxInterval.
// When attempts or wait run out the intent is flagged poll_exhausted and left
// non-terminal so a late webhook can still resolve it.
func (p *Poller) Watch(ctx context.Context, intentID string) (payments.Status, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Initial
	b.Multiplier = p.cfg.Multiplier
	b.MaxInterval = p.cfg.MaxInterval
	b.RandomizationFactor = 0

	attempt := 0
	op := func() (payments.Status, error) {
		attempt++
		out, err := task.Run(ctx, p.cfg.AttemptTimeout, func(ctx context.Context) (Outcome, error) {
			return p.rec.Resolve(ctx, intentID, SourcePoll)
		})
		if errors.Is(err, payments.ErrNotFound) {
			return "", backoff.Permanent(err)
		}
		if err != nil {
			p.log.Debug("poll attempt failed", zap.String("intent_id", intentID), zap.Int("attempt", attempt), zap.Error(err))
			return "", err
		}
		if out.Intent.Status.Terminal() {
			return out.Intent.Status, nil
		}
		return "", errUndecided
	}

	// The budget caps every wait at what is left of MaxWait so the last poll lands
	// at the deadline; the elapsed-time guard only catches a slow final attempt.
	budget := &budgetBackOff{next: b, deadline: time.Now().Add(p.cfg.MaxWait)}
	status, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(budget),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(p.cfg.MaxWait+p.cfg.AttemptTimeout),
	)
	if err == nil {
		p.log.Info("poll resolved", zap.String("intent_id", intentID), zap.String("status", string(status)), zap.Int("attempts", attempt))
		return status, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(err, payments.ErrNotFound) {
		return "", err
	}

	if merr := p.intents.MarkPollExhausted(context.WithoutCancel(ctx), intentID); merr != nil {
		p.log.Error("mark poll exhausted", zap.String("intent_id", intentID), zap.Error(merr))
	}
	p.log.Info("polling exhausted", zap.String("intent_id", intentID), zap.Int("attempts", attempt), zap.Error(err))
	return "", ErrPollExhausted
}

// budgetBackOff never waits past deadline and stops once it has passed.
type budgetBackOff struct {
	next     backoff.BackOff
	deadline time.Time
}

func (b *budgetBackOff) NextBackOff() time.Duration {
	d := b.next.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	left := time.Until(b.deadline)
	if left <= 0 {
		return backoff.Stop
	}
	return min(d, left)
}

func (b *budgetBackOff) Reset() { b.next.Reset() }
