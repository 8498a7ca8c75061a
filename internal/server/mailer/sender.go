package mailer

import (
	"context"

	"github.com/nexuschat/nexus/internal/logging"
)

// Sender hands one message to a mail provider. Implementations honour ctx
// deadlines; callers own the timeout.
type Sender interface {
	Send(ctx context.Context, msg OTPMessage) error
}

// LogSender is the development sender: it records that a code would have
// been sent. The code itself is not logged.
type LogSender struct {
	log logging.Logger
}

func NewLogSender(log logging.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg OTPMessage) error {
	s.log.Info(ctx, "otp email not sent, log mail provider in use", "to", msg.To)
	return nil
}
