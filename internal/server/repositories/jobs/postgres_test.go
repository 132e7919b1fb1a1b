package jobs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestAdd_MultiRowInsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+media_jobs\s+\(.*\)\s+VALUES\s+\(\$1, \$2, \$3, \$4, \$5, \$6\), \(\$7, \$8, \$9, \$10, \$11, \$12\)$`).
		WithArgs("j1", "m1", "f1", "h264", true, "u1", "j2", "m1", "f1", "hevc", false, "u1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.Add(context.Background(), []*models.TranscodeJob{
		{ID: "j1", MediaID: "m1", SourceFileID: "f1", Codec: "h264", IsPrimary: true, UploaderID: "u1"},
		{ID: "j2", MediaID: "m1", SourceFileID: "f1", Codec: "hevc", UploaderID: "u1"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdd_Empty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	require.NoError(t, repo.Add(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM\s+media_jobs\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "media_id", "source_file_id", "codec", "is_primary", "uploader_id", "created_at"}).
			AddRow("j1", "m1", "f1", "h264", true, "u1", now))

	j, err := repo.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, j.IsPrimary)
	assert.Equal(t, "f1", j.SourceFileID)

	mock.ExpectQuery(`FROM\s+media_jobs`).WithArgs("j9").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "j9")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRemove(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+media_jobs\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("j1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+media_jobs\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("j1").WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.Remove(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Remove(context.Background(), "j1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveByMedia(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`DELETE\s+FROM\s+media_jobs\s+WHERE\s+media_id\s*=\s*\$1\s+RETURNING\s+id`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("j1").AddRow("j2"))

	ids, err := repo.RemoveByMedia(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2"}, ids)
}

func TestListByMedia_Error(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+media_jobs`).WillReturnError(errors.New("boom"))

	_, err := repo.ListByMedia(context.Background(), "m1")
	assert.EqualError(t, err, "failed to select jobs: boom")
}
