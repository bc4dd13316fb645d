package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fluxhook/internal/metrics"
	"fluxhook/internal/notification"
	rtsup "fluxhook/internal/runtime/supervisor"
	logx "fluxhook/pkg/logx"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery queue stopped")
)

// Queue is safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// lastStart and lastEnd are touched only by the worker.
	lastStart time.Time
	lastEnd   time.Time
}

func New(cfg Config, sender Sender, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{sender: sender, log: log}
	q.applyLocked(cfg)
	return q
}

// Apply updates pacing and timeouts. The queue size only changes on the
// next Start.
func (q *Queue) Apply(cfg Config) {
	q.mu.Lock()
	q.applyLocked(cfg)
	q.mu.Unlock()
}

func (q *Queue) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	q.cfg = cfg

	if cfg.MinInterval == 0 {
		q.limiter = nil
		return
	}
	// Burst 1: one token every MinInterval, so consecutive starts are at
	// least MinInterval apart.
	if q.limiter == nil {
		q.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	} else {
		q.limiter.SetLimit(rate.Every(cfg.MinInterval))
	}
}

// Start launches the worker. It is idempotent.
func (q *Queue) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	if q.stopDone != nil {
		done := q.stopDone
		q.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		q.mu.Lock()
	}
	if q.queue != nil {
		q.mu.Unlock()
		return
	}

	q.queue = make(chan job, q.cfg.QueueSize)
	q.accepting = true
	q.sup = rtsup.New(ctx, rtsup.WithLogger(q.log.With(logx.String("comp", "delivery"))))
	sup := q.sup
	ch := q.queue
	q.mu.Unlock()

	sup.GoRestart("delivery.worker", func(c context.Context) error {
		q.workerLoop(c, ch)
		q.mu.Lock()
		stopping := q.stopDone != nil
		q.mu.Unlock()
		if stopping || c.Err() != nil {
			return context.Canceled
		}
		return errors.New("delivery worker exited unexpectedly")
	})
}

// Stop refuses new batches and drains the queue until ctx is done. Batches
// still queued after that complete with ErrStopped.
func (q *Queue) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	ch := q.queue
	sup := q.sup
	if ch == nil {
		q.mu.Unlock()
		return
	}
	if q.stopDone != nil {
		done := q.stopDone
		q.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	q.stopDone = done
	q.accepting = false
	q.mu.Unlock()

	go func() {
		defer close(done)
		// Let blocked enqueues land (or give up) before closing the channel.
		q.sendWG.Wait()
		close(ch)
		_ = sup.Wait(context.Background())
		for j := range ch {
			j.done <- ErrStopped
			close(j.done)
		}
		metrics.QueueDepth.Set(0)

		q.mu.Lock()
		q.queue = nil
		q.sup = nil
		q.stopDone = nil
		q.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
}

// Enqueue appends b to the queue and returns a channel that receives the
// delivery outcome exactly once. While the queue is full Enqueue blocks; if
// ctx ends first it returns ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, b notification.Batch) (<-chan error, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if !q.accepting || q.queue == nil {
		q.mu.Unlock()
		return nil, ErrStopped
	}
	ch := q.queue
	stopped := q.sup.Context().Done()
	q.sendWG.Add(1)
	q.mu.Unlock()
	defer q.sendWG.Done()

	j := job{batch: b, done: make(chan error, 1), enqueued: time.Now()}
	select {
	case ch <- j:
		metrics.QueueDepth.Set(float64(len(ch)))
		return j.done, nil
	default:
	}

	q.log.Debug("delivery queue full, waiting", logx.Int("batch", b.Seq), logx.Int("depth", len(ch)))
	select {
	case ch <- j:
		metrics.QueueDepth.Set(float64(len(ch)))
		return j.done, nil
	case <-stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

// Depth reports the number of batches waiting for the worker.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Tasks exposes the worker's supervisor state for health reporting.
func (q *Queue) Tasks() []rtsup.TaskStatus {
	q.mu.Lock()
	sup := q.sup
	q.mu.Unlock()
	return sup.Tasks()
}

func (q *Queue) workerLoop(ctx context.Context, ch <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-ch:
			if !ok {
				return
			}
			metrics.QueueDepth.Set(float64(len(ch)))
			err := q.deliver(ctx, j)
			j.done <- err
			close(j.done)
		}
	}
}

func (q *Queue) deliver(runCtx context.Context, j job) (err error) {
	q.mu.Lock()
	cfg := q.cfg
	lim := q.limiter
	sender := q.sender
	log := q.log
	q.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return ErrStopped
		}
	}
	// The limiter schedules from reservation times, so a late wakeup can
	// leave the next token due early. Starts are also spaced from the last
	// actual start.
	if cfg.MinInterval > 0 {
		next := nextStart(q.lastStart, q.lastEnd, cfg)
		if err := sleepUntil(runCtx, next); err != nil {
			return ErrStopped
		}
	}

	start := time.Now()
	q.lastStart = start
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
		q.lastEnd = time.Now()
		dur := q.lastEnd.Sub(start)
		if err != nil {
			metrics.RecordDelivery("error", dur.Seconds())
			log.Warn("batch delivery failed",
				logx.Int("batch", j.batch.Seq),
				logx.Int("records", len(j.batch.Records)),
				logx.Any("entries", j.batch.EntryIDs()),
				logx.Duration("took", dur),
				logx.Err(err))
			return
		}
		metrics.RecordDelivery("ok", dur.Seconds())
		log.Info("batch delivered",
			logx.Int("batch", j.batch.Seq),
			logx.Int("records", len(j.batch.Records)),
			logx.Duration("queued", start.Sub(j.enqueued)),
			logx.Duration("took", dur))
	}()

	if sender == nil {
		return errors.New("no sender configured")
	}
	sendCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
	defer cancel()
	return sender.Send(sendCtx, j.batch)
}

// nextStart is the earliest time the next send may begin.
func nextStart(lastStart, lastEnd time.Time, cfg Config) time.Time {
	var next time.Time
	if !lastStart.IsZero() {
		next = lastStart.Add(cfg.MinInterval)
	}
	if cfg.Strict && !lastEnd.IsZero() {
		if e := lastEnd.Add(cfg.MinInterval); e.After(next) {
			next = e
		}
	}
	return next
}

func sleepUntil(ctx context.Context, t time.Time) error {
	for {
		wait := time.Until(t)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
