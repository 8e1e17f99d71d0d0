package outbox

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRepository(database.NewDatabaseInstance(sqlx.NewDb(raw, "sqlmock"), logger), logger), mock
}

func TestCreate_AssignsID(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hbi_event_outbox (id, org_id, swatch_event_json, created_date) VALUES ($1, $2, $3, $4)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.OutboxRecord{
		OrgID:       "org1",
		SwatchEvent: database.NewJSONB(models.SwatchEvent{OrgID: "org1", EventType: models.EventTypeInstanceCreated}),
		CreatedDate: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAllWithLock_SkipsLockedRows(t *testing.T) {
	repo, mock := newTestRepository(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM hbi_event_outbox ORDER BY created_date, id LIMIT") + ".*" + regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id.String(), "org1", []byte(`{"org_id":"org1","event_type":"INSTANCE_UPDATED","instance_id":"i1"}`), now))

	records, err := repo.FindAllWithLock(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, "i1", records[0].SwatchEvent.Data.InstanceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock := newTestRepository(t)
	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM hbi_event_outbox WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM hbi_event_outbox")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestCount_Error(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("down"))

	_, err := repo.Count(context.Background())
	assert.True(t, httperror.IsHTTPError(err))
}
