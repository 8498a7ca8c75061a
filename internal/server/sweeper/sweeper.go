// Package sweeper periodically removes consumed OTP records.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/logging"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
	"github.com/robfig/cron/v3"
)

type Sweeper struct {
	db        dbx.DBTX
	repos     repomanager.RepositoryManager
	retention time.Duration
	now       func() time.Time
	log       logging.Logger
}

func New(db dbx.DBTX, repos repomanager.RepositoryManager, retention time.Duration, log logging.Logger) *Sweeper {
	return &Sweeper{
		db:        db,
		repos:     repos,
		retention: retention,
		now:       time.Now,
		log:       log.With("module", "sweeper"),
	}
}

// Sweep deletes used codes created more than retention ago. Unused codes are
// left alone even when expired.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.repos.OTPs(s.db).DeleteUsedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "otp sweep finished", "deleted", n)
	return n, nil
}

// Schedule registers Sweep on a cron evaluated in the named IANA timezone and
// starts the scheduler. The returned stop func waits for a running sweep.
func (s *Sweeper) Schedule(ctx context.Context, spec, timezone string) (stop func(), err error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("sweep timezone: %w", err)
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error(ctx, "otp sweep failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}

	c.Start()
	s.log.Info(ctx, "otp sweep scheduled", "schedule", spec, "timezone", timezone)

	return func() { <-c.Stop().Done() }, nil
}
