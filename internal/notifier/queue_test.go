package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxhook/internal/notification"
	logx "fluxhook/pkg/logx"
)

type sendRecord struct {
	seq        int
	start, end time.Time
}

type recordingSender struct {
	mu      sync.Mutex
	sends   []sendRecord
	active  int
	overlap bool
	delay   func(seq int) time.Duration
	fail    func(seq int) error
}

func (s *recordingSender) Send(ctx context.Context, b notification.Batch) error {
	s.mu.Lock()
	s.active++
	if s.active > 1 {
		s.overlap = true
	}
	s.mu.Unlock()

	start := time.Now()
	if s.delay != nil {
		select {
		case <-time.After(s.delay(b.Seq)):
		case <-ctx.Done():
		}
	}
	var err error
	if s.fail != nil {
		err = s.fail(b.Seq)
	}

	s.mu.Lock()
	s.active--
	s.sends = append(s.sends, sendRecord{seq: b.Seq, start: start, end: time.Now()})
	s.mu.Unlock()
	return err
}

func (s *recordingSender) records() []sendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendRecord(nil), s.sends...)
}

func startQueue(t *testing.T, cfg Config, s Sender) *Queue {
	t.Helper()
	q := New(cfg, s, logx.Nop())
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Stop(ctx)
	})
	return q
}

func waitAll(t *testing.T, chans []<-chan error) []error {
	t.Helper()
	out := make([]error, len(chans))
	for i, ch := range chans {
		select {
		case out[i] = <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("batch %d never completed", i)
		}
	}
	return out
}

func TestDeliversInOrderWithVaryingLatency(t *testing.T) {
	s := &recordingSender{delay: func(seq int) time.Duration {
		return time.Duration((5-seq%5)*3) * time.Millisecond
	}}
	q := startQueue(t, Config{}, s)

	var chans []<-chan error
	for i := 0; i < 12; i++ {
		ch, err := q.Enqueue(context.Background(), notification.Batch{Seq: i})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	for _, err := range waitAll(t, chans) {
		assert.NoError(t, err)
	}

	recs := s.records()
	require.Len(t, recs, 12)
	for i, r := range recs {
		assert.Equal(t, i, r.seq)
		if i > 0 {
			assert.False(t, r.start.Before(recs[i-1].end), "send %d started before %d finished", i, i-1)
		}
	}
	assert.False(t, s.overlap)
}

func TestMinIntervalBetweenStarts(t *testing.T) {
	const interval = 40 * time.Millisecond
	s := &recordingSender{}
	q := startQueue(t, Config{MinInterval: interval}, s)

	var chans []<-chan error
	for i := 0; i < 4; i++ {
		ch, err := q.Enqueue(context.Background(), notification.Batch{Seq: i})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	waitAll(t, chans)

	recs := s.records()
	require.Len(t, recs, 4)
	for i := 1; i < len(recs); i++ {
		gap := recs[i].start.Sub(recs[i-1].start)
		assert.GreaterOrEqual(t, gap, interval, "gap %d", i)
	}
}

func TestMinIntervalHoldsAcrossManySends(t *testing.T) {
	const interval = 20 * time.Millisecond
	s := &recordingSender{delay: func(seq int) time.Duration {
		return time.Duration(seq%3) * 7 * time.Millisecond
	}}
	q := startQueue(t, Config{MinInterval: interval}, s)

	var chans []<-chan error
	for i := 0; i < 30; i++ {
		ch, err := q.Enqueue(context.Background(), notification.Batch{Seq: i})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	waitAll(t, chans)

	recs := s.records()
	require.Len(t, recs, 30)
	for i := 1; i < len(recs); i++ {
		gap := recs[i].start.Sub(recs[i-1].start)
		assert.GreaterOrEqual(t, gap, interval, "gap %d", i)
	}
}

func TestNextStart(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{MinInterval: time.Second}

	assert.True(t, nextStart(time.Time{}, time.Time{}, cfg).IsZero())
	assert.Equal(t, base.Add(time.Second), nextStart(base, base.Add(300*time.Millisecond), cfg))

	cfg.Strict = true
	assert.Equal(t, base.Add(1300*time.Millisecond), nextStart(base, base.Add(300*time.Millisecond), cfg))
}

func TestStrictIntervalAfterCompletion(t *testing.T) {
	const interval = 30 * time.Millisecond
	s := &recordingSender{delay: func(int) time.Duration { return 20 * time.Millisecond }}
	q := startQueue(t, Config{MinInterval: interval, Strict: true}, s)

	var chans []<-chan error
	for i := 0; i < 3; i++ {
		ch, err := q.Enqueue(context.Background(), notification.Batch{Seq: i})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	waitAll(t, chans)

	recs := s.records()
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i].start.Sub(recs[i-1].end), interval)
	}
}

func TestFailureDoesNotStopLaterBatches(t *testing.T) {
	boom := errors.New("boom")
	s := &recordingSender{fail: func(seq int) error {
		if seq == 1 {
			return boom
		}
		return nil
	}}
	q := startQueue(t, Config{}, s)

	var chans []<-chan error
	for i := 0; i < 3; i++ {
		ch, err := q.Enqueue(context.Background(), notification.Batch{Seq: i})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	errs := waitAll(t, chans)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.NoError(t, errs[2])
	assert.Len(t, s.records(), 3, "failed batch is not retried")
}

func TestPanickingSenderReportsError(t *testing.T) {
	q := startQueue(t, Config{}, SenderFunc(func(ctx context.Context, b notification.Batch) error {
		if b.Seq == 0 {
			panic("sender bug")
		}
		return nil
	}))

	first, err := q.Enqueue(context.Background(), notification.Batch{Seq: 0})
	require.NoError(t, err)
	second, err := q.Enqueue(context.Background(), notification.Batch{Seq: 1})
	require.NoError(t, err)

	errs := waitAll(t, []<-chan error{first, second})
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	q := startQueue(t, Config{QueueSize: 1}, SenderFunc(func(ctx context.Context, b notification.Batch) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	first, err := q.Enqueue(context.Background(), notification.Batch{Seq: 0})
	require.NoError(t, err)
	<-started // worker holds batch 0; the queue is empty again

	second, err := q.Enqueue(context.Background(), notification.Batch{Seq: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = q.Enqueue(ctx, notification.Batch{Seq: 2})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	waitAll(t, []<-chan error{first, second})
}

func TestEnqueueAfterStop(t *testing.T) {
	q := New(Config{}, SenderFunc(func(context.Context, notification.Batch) error { return nil }), logx.Nop())
	_, err := q.Enqueue(context.Background(), notification.Batch{})
	assert.ErrorIs(t, err, ErrStopped)

	q.Start(context.Background())
	ch, err := q.Enqueue(context.Background(), notification.Batch{})
	require.NoError(t, err)
	waitAll(t, []<-chan error{ch})

	q.Stop(context.Background())
	_, err = q.Enqueue(context.Background(), notification.Batch{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopDrainsPendingBatches(t *testing.T) {
	s := &recordingSender{delay: func(int) time.Duration { return 5 * time.Millisecond }}
	q := New(Config{}, s, logx.Nop())
	q.Start(context.Background())

	var chans []<-chan error
	for i := 0; i < 5; i++ {
		ch, err := q.Enqueue(context.Background(), notification.Batch{Seq: i})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Stop(ctx)

	for _, err := range waitAll(t, chans) {
		assert.NoError(t, err)
	}
	assert.Len(t, s.records(), 5)
	assert.Equal(t, 0, q.Depth())
}
