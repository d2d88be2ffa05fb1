package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReader struct {
	mu      sync.Mutex
	queue   []kafka.Message
	commits []int64
	closed  bool
}

func newMemReader(n int) *memReader {
	r := &memReader{}
	for i := 0; i < n; i++ {
		r.queue = append(r.queue, kafka.Message{Topic: "payment.created", Partition: 0, Offset: int64(i)})
	}
	return r
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *memReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *memReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

func fastConsumer(r messageReader, workers int) *Consumer {
	c := newConsumer(r, workers, nil)
	c.retryInitial = time.Millisecond
	c.retryMax = 5 * time.Millisecond
	return c
}

func run(t *testing.T, c *Consumer, h Handler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumer_RetriesFailedHandlerBeforeCommitting(t *testing.T) {
	r := newMemReader(1)
	var calls atomic.Int32
	stop := run(t, fastConsumer(r, 1), func(ctx context.Context, m kafka.Message) error {
		if calls.Add(1) < 3 {
			return errors.New("db down")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.committed()) == 1 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int64{0}, r.committed())
	assert.True(t, r.closed)
}

func TestConsumer_SlowMessageHoldsBackLaterCommits(t *testing.T) {
	r := newMemReader(3)
	release := make(chan struct{})
	var finished atomic.Int32
	stop := run(t, fastConsumer(r, 3), func(ctx context.Context, m kafka.Message) error {
		if m.Offset == 0 {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		finished.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return finished.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.committed(), "offsets 1 and 2 must wait for 0")

	close(release)
	require.Eventually(t, func() bool { return finished.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		c := r.committed()
		return len(c) > 0 && c[len(c)-1] == 2
	}, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, []int64{2}, r.committed())
}

func TestConsumer_ShutdownLeavesUnfinishedUncommitted(t *testing.T) {
	r := newMemReader(2)
	stop := run(t, fastConsumer(r, 2), func(ctx context.Context, m kafka.Message) error {
		if m.Offset == 0 {
			return errors.New("still failing")
		}
		return nil
	})
	time.Sleep(30 * time.Millisecond)
	stop()
	assert.Empty(t, r.committed())
}

func TestOffsetTracker_CommitsContiguousPrefix(t *testing.T) {
	tr := newOffsetTracker()
	msgs := make([]kafka.Message, 4)
	for i := range msgs {
		msgs[i] = kafka.Message{Partition: 1, Offset: int64(10 + i)}
		tr.fetched(msgs[i])
	}
	tr.fetched(kafka.Message{Partition: 2, Offset: 7})

	_, ok := tr.markDone(msgs[2])
	assert.False(t, ok)
	_, ok = tr.markDone(msgs[1])
	assert.False(t, ok)

	upTo, ok := tr.markDone(msgs[0])
	require.True(t, ok)
	assert.Equal(t, int64(12), upTo.Offset)

	upTo, ok = tr.markDone(kafka.Message{Partition: 2, Offset: 7})
	require.True(t, ok)
	assert.Equal(t, int64(7), upTo.Offset)

	upTo, ok = tr.markDone(msgs[3])
	require.True(t, ok)
	assert.Equal(t, int64(13), upTo.Offset)
}
