package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
)

// Handler must return nil only when processing succeeded and the offset may be committed.
// A returned error is retried in place, so poison messages must be dropped by returning nil.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     *zap.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, logger)
}

func newConsumer(r messageReader, workers int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:            r,
		workers:      workers,
		log:          observability.OrNop(logger),
		retryInitial: 200 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
}

// Start fetches messages and fans them out to a fixed worker pool. A failing
// handler is retried with backoff until it succeeds or ctx ends. Offsets are
// committed per partition in fetch order: a message is committed only once every
// earlier message of its partition is done, so a slow or failing handler holds the
// group position back instead of being skipped.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	offsets := newOffsetTracker()
	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, id, h, m) {
					continue // shutting down; left uncommitted for the next run
				}
				c.complete(ctx, offsets, m)
			}
		}(i)
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		offsets.fetched(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = c.retryMax
		}
		c.log.Warn("handler failed, retrying",
			zap.Int("worker", worker),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

func (c *Consumer) complete(ctx context.Context, offsets *offsetTracker, m kafka.Message) {
	offsets.mu.Lock()
	defer offsets.mu.Unlock()
	upTo, ok := offsets.markDone(m)
	if !ok {
		return
	}
	if err := c.r.CommitMessages(ctx, upTo); err != nil && ctx.Err() == nil {
		c.log.Warn("commit failed", zap.Int("partition", upTo.Partition), zap.Int64("offset", upTo.Offset), zap.Error(err))
	}
}

// offsetTracker keeps fetched messages per partition until they can be committed
// in order.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []kafka.Message // fetch order
	done    map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[m.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.parts[m.Partition] = p
	}
	p.pending = append(p.pending, m)
}

// markDone records m and returns the last message of the completed prefix of its
// partition, if the prefix grew. Callers hold t.mu.
func (t *offsetTracker) markDone(m kafka.Message) (kafka.Message, bool) {
	p, ok := t.parts[m.Partition]
	if !ok {
		return m, true
	}
	p.done[m.Offset] = true
	var last kafka.Message
	advanced := false
	for len(p.pending) > 0 && p.done[p.pending[0].Offset] {
		last = p.pending[0]
		delete(p.done, last.Offset)
		p.pending = p.pending[1:]
		advanced = true
	}
	return last, advanced
}
