package outbox

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const tableName = "hbi_event_outbox"

var columns = []string{"id", "org_id", "swatch_event_json", "created_date"}

// Repository stores pending outbound events.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts record, assigning an id when it has none.
func (r *Repository) Create(ctx context.Context, record *models.OutboxRecord) error {
	ctx, span := tracing.StartSpan(ctx, "outbox.Repository.Create")
	defer span.End()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols(columns...)
	ib.Values(record.ID, record.OrgID, record.SwatchEvent, record.CreatedDate)

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("org_id", record.OrgID).Error("Failed to create outbox record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create outbox record")
	}

	return nil
}

// FindAllWithLock returns up to limit of the oldest rows, row-locked for the
// surrounding transaction. Rows locked by another flush are skipped.
func (r *Repository) FindAllWithLock(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.Repository.FindAllWithLock")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.OrderBy("created_date", "id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	query += " FOR UPDATE SKIP LOCKED"

	var records []models.OutboxRecord
	if err := r.db.Conn(ctx).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock outbox batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read outbox records")
	}

	return records, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "outbox.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("outbox_id", id.String()).Error("Failed to delete outbox record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete outbox record")
	}

	return nil
}

// Count returns the number of pending rows.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.Repository.Count")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(tableName)

	query, args := sb.Build()
	var count int64
	if err := r.db.Conn(ctx).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count outbox records")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count outbox records")
	}

	return count, nil
}
