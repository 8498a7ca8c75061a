package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexuschat/nexus/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []OTPMessage
	err   error
	delay time.Duration
}

func (s *recordingSender) Send(ctx context.Context, msg OTPMessage) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []OTPMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OTPMessage(nil), s.sent...)
}

func TestAsyncDispatcher_DeliversAfterRequestContextEnds(t *testing.T) {
	sender := &recordingSender{delay: 20 * time.Millisecond}
	d := NewAsyncDispatcher(sender, time.Second, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, OTPMessage{To: "a@x.com", Code: "123456"})
	cancel()

	require.NoError(t, d.Close(context.Background()))
	got := sender.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "a@x.com", got[0].To)
}

func TestAsyncDispatcher_FailureIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	d := NewAsyncDispatcher(sender, time.Second, logging.Discard())

	d.Dispatch(context.Background(), OTPMessage{To: "a@x.com", Code: "1"})
	require.NoError(t, d.Close(context.Background()))
	assert.Empty(t, sender.messages())
}

func TestAsyncDispatcher_TimeoutBoundsSend(t *testing.T) {
	sender := &recordingSender{delay: time.Second}
	d := NewAsyncDispatcher(sender, 20*time.Millisecond, logging.Discard())

	start := time.Now()
	d.Dispatch(context.Background(), OTPMessage{To: "a@x.com", Code: "1"})
	require.NoError(t, d.Close(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, sender.messages())
}

func TestAsyncDispatcher_ClosedDropsNewWork(t *testing.T) {
	sender := &recordingSender{}
	d := NewAsyncDispatcher(sender, time.Second, logging.Discard())
	require.NoError(t, d.Close(context.Background()))

	d.Dispatch(context.Background(), OTPMessage{To: "a@x.com", Code: "1"})
	require.NoError(t, d.Close(context.Background()))
	assert.Empty(t, sender.messages())
}

func TestAsyncDispatcher_CloseHonoursContext(t *testing.T) {
	sender := &recordingSender{delay: time.Second}
	d := NewAsyncDispatcher(sender, 5*time.Second, logging.Discard())
	d.Dispatch(context.Background(), OTPMessage{To: "a@x.com", Code: "1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}
