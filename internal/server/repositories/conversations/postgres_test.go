package conversations

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

var participantCols = []string{"conversation_id", "user_id", "username", "role", "joined_at"}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+conversations\s*\(name,\s*type,\s*created_by\).*RETURNING\s+id,\s*created_at$`).
		WithArgs("team", "group", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("c1", now))

	c := &models.Conversation{Name: "team", Type: "group", CreatedBy: "u1"}
	require.NoError(t, repo.Create(context.Background(), c))
	assert.Equal(t, "c1", c.ID)
	assert.True(t, c.CreatedAt.Equal(now))
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`INSERT\s+INTO\s+conversations`).WillReturnError(errors.New("boom"))

	err := repo.Create(context.Background(), &models.Conversation{})
	assert.ErrorContains(t, err, "db error: boom")
}

func TestAddParticipant(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^INSERT\s+INTO\s+conversation_participants.*ON\s+CONFLICT\s*\(conversation_id,\s*user_id\)\s*DO\s+NOTHING$`

	mock.ExpectExec(q).WithArgs("c1", "u1", "admin").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("c1", "ghost", "member").WillReturnError(&pgconn.PgError{Code: "23503"})

	require.NoError(t, repo.AddParticipant(context.Background(), "c1", "u1", "admin"))
	assert.ErrorIs(t, repo.AddParticipant(context.Background(), "c1", "ghost", "member"), common.ErrUnknownUser)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*name,\s*type,\s*created_by,\s*created_at\s+FROM\s+conversations\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "created_by", "created_at"}).
			AddRow("c1", "team", "group", "u1", now))
	mock.ExpectQuery(`(?s)FROM\s+conversation_participants\s+p.*WHERE\s+p\.conversation_id\s*=\s*\$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(participantCols).
			AddRow("c1", "u1", "alice", "admin", now).
			AddRow("c1", "u2", "bob", "member", now))

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "team", c.Name)
	require.Len(t, c.Participants, 2)
	assert.Equal(t, "bob", c.Participants[1].UserName)
	assert.True(t, c.HasUser("u2"))
	assert.False(t, c.HasUser("u3"))
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+conversations`).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM\s+conversations`).WithArgs("not-a-uuid").WillReturnError(&pgconn.PgError{Code: "22P02"})

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListForUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)FROM\s+conversations\s+c\s+JOIN\s+conversation_participants\s+me.*WHERE\s+me\.user_id\s*=\s*\$1\s+ORDER\s+BY\s+c\.created_at\s+DESC$`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "created_by", "created_at"}).
			AddRow("c2", "", "direct", "u2", now).
			AddRow("c1", "team", "group", "u1", now.Add(-time.Hour)))
	mock.ExpectQuery(`(?s)FROM\s+conversation_participants\s+p.*JOIN\s+conversation_participants\s+me.*WHERE\s+me\.user_id\s*=\s*\$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(participantCols).
			AddRow("c1", "u1", "alice", "admin", now).
			AddRow("c2", "u2", "bob", "admin", now).
			AddRow("c2", "u1", "alice", "member", now).
			AddRow("c1", "u3", "carol", "member", now))

	got, err := repo.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ID)
	assert.Len(t, got[0].Participants, 2)
	assert.Equal(t, []string{"alice", "carol"}, []string{got[1].Participants[0].UserName, got[1].Participants[1].UserName})
}

func TestListForUser_Empty(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+conversations\s+c`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "created_by", "created_at"}))

	got, err := repo.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParticipantIDs(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT\s+user_id\s+FROM\s+conversation_participants\s+WHERE\s+conversation_id\s*=\s*\$1$`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	ids, err := repo.ParticipantIDs(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
}

func TestIsParticipant(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)SELECT\s+EXISTS.*conversation_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`

	mock.ExpectQuery(q).WithArgs("c1", "u1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("bad", "u1").WillReturnError(&pgconn.PgError{Code: "22P02"})
	mock.ExpectQuery(q).WithArgs("c1", "u2").WillReturnError(errors.New("down"))

	ok, err := repo.IsParticipant(context.Background(), "c1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsParticipant(context.Background(), "bad", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.IsParticipant(context.Background(), "c1", "u2")
	assert.Error(t, err)
}
