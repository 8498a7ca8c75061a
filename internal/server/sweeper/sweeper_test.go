package sweeper

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuschat/nexus/internal/logging"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deleteQuery = regexp.QuoteMeta(`DELETE FROM otp_verifications`)

func newSweeper(t *testing.T, retention time.Duration) (*Sweeper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, repomanager.NewPostgresRepositoryManager(), retention, logging.Discard())
	s.now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestSweep_UsesRetentionCutoff(t *testing.T) {
	s, mock := newSweeper(t, 24*time.Hour)

	mock.ExpectExec(deleteQuery).
		WithArgs(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweep_ZeroRetentionCutsAtNow(t *testing.T) {
	s, mock := newSweeper(t, 0)

	mock.ExpectExec(deleteQuery).
		WithArgs(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
}

func TestSweep_Error(t *testing.T) {
	s, mock := newSweeper(t, 0)
	mock.ExpectExec(deleteQuery).WillReturnError(errors.New("conn reset"))

	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSchedule(t *testing.T) {
	s, _ := newSweeper(t, 0)

	stop, err := s.Schedule(context.Background(), "0 0 * * *", "Asia/Kolkata")
	require.NoError(t, err)
	stop()

	_, err = s.Schedule(context.Background(), "not a spec", "UTC")
	assert.Error(t, err)

	_, err = s.Schedule(context.Background(), "0 0 * * *", "Mars/Olympus")
	assert.Error(t, err)
}
