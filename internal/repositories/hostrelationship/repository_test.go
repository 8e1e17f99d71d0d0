package hostrelationship

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newTestRepository(t *testing.T) (*Repository, database.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db := database.NewDatabaseInstance(sqlx.NewDb(raw, "sqlmock"), logger)
	return NewRepository(db, logger), db, mock
}

func relationshipRows() *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

func TestFind_ReturnsRow(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id := models.HostID("org1", "g1")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, subscription_manager_id")).
		WithArgs(id).
		WillReturnRows(relationshipRows().AddRow(
			id.String(), "org1", "g1", "inv-1", "h1", true, []byte(`{"id":"inv-1"}`), now, now,
		))

	rel, err := repo.Find(context.Background(), "org1", "g1")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, id, rel.ID)
	assert.Equal(t, "h1", rel.HypervisorID())
	assert.True(t, rel.IsUnmappedGuest)
	assert.JSONEq(t, `{"id":"inv-1"}`, string(rel.Facts.Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFind_NotFoundIsNil(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	mock.ExpectQuery("SELECT .* FROM host_relationships").WillReturnRows(relationshipRows())

	rel, err := repo.Find(context.Background(), "org1", "missing")
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestFind_DriverErrorIs500(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	mock.ExpectQuery("SELECT .* FROM host_relationships").WillReturnError(errors.New("connection reset"))

	_, err := repo.Find(context.Background(), "org1", "g1")
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
}

func TestFindByInventoryID_NewestFirst(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE org_id = $1 AND inventory_id = $2 ORDER BY last_updated DESC LIMIT")).
		WillReturnRows(relationshipRows())

	rel, err := repo.FindByInventoryID(context.Background(), "org1", "inv-1")
	require.NoError(t, err)
	assert.Nil(t, rel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM host_relationships WHERE id = $1)")).
		WithArgs(models.HostID("org1", "h1")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), "org1", "h1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_KeepsCreationDate(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	now := time.Now().UTC()
	hv := "h1"
	rel := &models.HostRelationship{
		OrgID:                 "org1",
		SubscriptionManagerID: "g1",
		HypervisorUUID:        &hv,
		Facts:                 database.NewJSONB(json.RawMessage(`{}`)),
		CreationDate:          now,
		LastUpdated:           now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO host_relationships (id, org_id, subscription_manager_id, inventory_id, hypervisor_uuid, is_unmapped_guest, facts, creation_date, last_updated)") +
		".*" + regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET inventory_id = EXCLUDED.inventory_id, hypervisor_uuid = EXCLUDED.hypervisor_uuid, is_unmapped_guest = EXCLUDED.is_unmapped_guest, facts = EXCLUDED.facts, last_updated = EXCLUDED.last_updated")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), rel))
	assert.Equal(t, models.HostID("org1", "g1"), rel.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	id := models.HostID("org1", "h1")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM host_relationships WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuestCount(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM host_relationships WHERE org_id = $1 AND hypervisor_uuid = $2")).
		WithArgs("org1", "h1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.GuestCount(context.Background(), "org1", "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuestCount_EmptyHypervisorSkipsQuery(t *testing.T) {
	repo, _, mock := newTestRepository(t)

	count, err := repo.GuestCount(context.Background(), "org1", "")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUnmappedGuests(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE org_id = $1 AND hypervisor_uuid = $2 AND is_unmapped_guest = $3 ORDER BY subscription_manager_id")).
		WithArgs("org1", "h1", true).
		WillReturnRows(relationshipRows().
			AddRow(models.HostID("org1", "g1").String(), "org1", "g1", nil, "h1", true, []byte(`{}`), now, now).
			AddRow(models.HostID("org1", "g2").String(), "org1", "g2", nil, "h1", true, []byte(`{}`), now, now))

	guests, err := repo.FindUnmappedGuests(context.Background(), "org1", "h1")
	require.NoError(t, err)
	require.Len(t, guests, 2)
	assert.Equal(t, "g1", guests[0].SubscriptionManagerID)
	assert.Nil(t, guests[0].InventoryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRunsOnContextTransaction(t *testing.T) {
	repo, db, mock := newTestRepository(t)
	id := models.HostID("org1", "h1")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM host_relationships").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")
	assert.NoError(t, mock.ExpectationsWereMet())
}
