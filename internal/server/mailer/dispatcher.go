package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/nexuschat/nexus/internal/logging"
)

// Dispatcher schedules delivery without making the caller wait for it.
// Failures are logged, never returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg OTPMessage)
	// Close stops accepting work and waits for in-flight sends until ctx ends.
	Close(ctx context.Context) error
}

// AsyncDispatcher sends each message on its own goroutine, bounded by
// timeout. The request context only contributes values, not cancellation,
// so a finished request does not abort its email.
type AsyncDispatcher struct {
	sender  Sender
	timeout time.Duration
	log     logging.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(sender Sender, timeout time.Duration, log logging.Logger) *AsyncDispatcher {
	return &AsyncDispatcher{sender: sender, timeout: timeout, log: log}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, msg OTPMessage) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn(ctx, "otp email dropped, dispatcher closed", "to", msg.To)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.sender.Send(sctx, msg); err != nil {
			d.log.Error(sctx, "otp email delivery failed", "to", msg.To, "error", err)
			return
		}
		d.log.Debug(sctx, "otp email delivered", "to", msg.To)
	}()
}

func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
