package messages

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

var cols = []string{"id", "conversation_id", "role", "content", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)INSERT\s+INTO\s+messages\s*\(conversation_id,\s*role,\s*content,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*RETURNING\s+id`
	mock.ExpectQuery(q).WithArgs("c1", "user", "hi", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m1"))

	m := &models.Message{ConversationID: "c1", Role: models.RoleUser, Content: "hi", CreatedAt: now}
	require.NoError(t, repo.Create(context.Background(), m))
	assert.Equal(t, "m1", m.ID)
}

func TestListByConversation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)FROM\s+messages\s+WHERE\s+conversation_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s+ASC`
	mock.ExpectQuery(q).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m1", "c1", "user", "hi", now).
			AddRow("m2", "c1", "assistant", "hello", now.Add(time.Second)))

	got, err := repo.ListByConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.RoleAssistant, got[1].Role)
}

func TestRecent_ReturnsOldestFirst(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$2`
	mock.ExpectQuery(q).WithArgs("c1", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m3", "c1", "assistant", "third", now.Add(2*time.Second)).
			AddRow("m2", "c1", "user", "second", now.Add(time.Second)))

	got, err := repo.Recent(context.Background(), "c1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m3", got[1].ID)

	mock.ExpectQuery(q).WithArgs("c1", 2).WillReturnError(errors.New("boom"))
	_, err = repo.Recent(context.Background(), "c1", 2)
	assert.Error(t, err)
}
