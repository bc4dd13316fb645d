package notifier

import (
	"context"
	"time"

	"fluxhook/internal/notification"
)

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 15 * time.Second
)

type Config struct {
	// QueueSize bounds pending batches. Enqueue blocks while the queue is full.
	QueueSize   int
	MinInterval time.Duration
	Strict      bool
	SendTimeout time.Duration
}

// Sender delivers one batch as one outbound message.
type Sender interface {
	Send(ctx context.Context, b notification.Batch) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, b notification.Batch) error

func (f SenderFunc) Send(ctx context.Context, b notification.Batch) error { return f(ctx, b) }

type job struct {
	batch    notification.Batch
	done     chan error
	enqueued time.Time
}
