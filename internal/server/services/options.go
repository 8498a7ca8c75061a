// Package services contains server-side business logic: account and session
// lifecycle, conversations and attachments. Services own transactions;
// repositories only run statements on the handle they are given.
package services

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"time"

	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/logging"
)

type options struct {
	now  func() time.Time
	rand io.Reader
	log  logging.Logger
}

// Option adjusts the collaborators shared by all services.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom replaces crypto/rand as the source for codes and tokens.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, rand: rand.Reader, log: logging.Discard()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NormalizeEmail is the canonical form used for every lookup and insert.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// internalError logs err with op and hides it behind common.ErrorInternal.
func internalError(ctx context.Context, log logging.Logger, op string, err error) error {
	log.Error(ctx, op+" failed", "error", err)
	return common.ErrorInternal
}
