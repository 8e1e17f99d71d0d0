package hostrelationship

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const tableName = "host_relationships"

var columns = []string{
	"id",
	"org_id",
	"subscription_manager_id",
	"inventory_id",
	"hypervisor_uuid",
	"is_unmapped_guest",
	"facts",
	"creation_date",
	"last_updated",
}

// creation_date is kept from the first insert.
var updatableColumns = []string{
	"inventory_id",
	"hypervisor_uuid",
	"is_unmapped_guest",
	"facts",
	"last_updated",
}

// Repository persists host relationships. Every method runs on the
// transaction carried by ctx when there is one.
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

// FindByID returns the relationship with id, or nil when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.HostRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.FindByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	return r.getOne(ctx, sb)
}

// Find returns the relationship for a host identity, or nil when absent.
func (r *Repository) Find(ctx context.Context, orgID, subscriptionManagerID string) (*models.HostRelationship, error) {
	return r.FindByID(ctx, models.HostID(orgID, subscriptionManagerID))
}

// FindByInventoryID returns the relationship last reported with inventoryID.
func (r *Repository) FindByInventoryID(ctx context.Context, orgID, inventoryID string) (*models.HostRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.FindByInventoryID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("org_id", orgID),
		sb.Equal("inventory_id", inventoryID),
	)
	sb.OrderBy("last_updated").Desc()
	sb.Limit(1)

	return r.getOne(ctx, sb)
}

func (r *Repository) getOne(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*models.HostRelationship, error) {
	query, args := sb.Build()

	var rel models.HostRelationship
	if err := r.db.Conn(ctx).GetContext(ctx, &rel, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get host relationship")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get host relationship")
	}

	return &rel, nil
}

// Exists reports whether a relationship is stored for the host identity.
func (r *Repository) Exists(ctx context.Context, orgID, subscriptionManagerID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.Exists")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("1")
	sb.From(tableName)
	sb.Where(sb.Equal("id", models.HostID(orgID, subscriptionManagerID)))
	inner, args := sb.Build()

	var exists bool
	if err := r.db.Conn(ctx).GetContext(ctx, &exists, "SELECT EXISTS ("+inner+")", args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check host relationship existence")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check host relationship")
	}

	return exists, nil
}

// Upsert inserts rel or overwrites the mutable columns of the stored row.
func (r *Repository) Upsert(ctx context.Context, rel *models.HostRelationship) error {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.Upsert")
	defer span.End()

	if rel.ID == uuid.Nil {
		rel.ID = models.HostID(rel.OrgID, rel.SubscriptionManagerID)
	}

	query, args := database.Upsert(tableName, columns, []any{
		rel.ID,
		rel.OrgID,
		rel.SubscriptionManagerID,
		rel.InventoryID,
		rel.HypervisorUUID,
		rel.IsUnmappedGuest,
		rel.Facts,
		rel.CreationDate,
		rel.LastUpdated,
	}, []string{"id"}, updatableColumns)

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"org_id":                  rel.OrgID,
			"subscription_manager_id": rel.SubscriptionManagerID,
		}).Error("Failed to upsert host relationship")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save host relationship")
	}

	return nil
}

// Delete removes the relationship row with id. Rows referencing it are untouched.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete host relationship")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete host relationship")
	}

	return nil
}

// GuestCount counts relationships whose hypervisor_uuid is hypervisorID.
// Null and empty references never match.
func (r *Repository) GuestCount(ctx context.Context, orgID, hypervisorID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.GuestCount")
	defer span.End()

	if hypervisorID == "" {
		return 0, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(tableName)
	sb.Where(
		sb.Equal("org_id", orgID),
		sb.Equal("hypervisor_uuid", hypervisorID),
	)

	query, args := sb.Build()
	var count int64
	if err := r.db.Conn(ctx).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count guests")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count guests")
	}

	return count, nil
}

// FindGuests returns every relationship referencing hypervisorID.
func (r *Repository) FindGuests(ctx context.Context, orgID, hypervisorID string) ([]models.HostRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.FindGuests")
	defer span.End()

	return r.findGuests(ctx, orgID, hypervisorID, false)
}

// FindUnmappedGuests returns relationships referencing hypervisorID that are
// still flagged unmapped.
func (r *Repository) FindUnmappedGuests(ctx context.Context, orgID, hypervisorID string) ([]models.HostRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "hostrelationship.Repository.FindUnmappedGuests")
	defer span.End()

	return r.findGuests(ctx, orgID, hypervisorID, true)
}

func (r *Repository) findGuests(ctx context.Context, orgID, hypervisorID string, unmappedOnly bool) ([]models.HostRelationship, error) {
	if hypervisorID == "" {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("org_id", orgID),
		sb.Equal("hypervisor_uuid", hypervisorID),
	)
	if unmappedOnly {
		sb.Where(sb.Equal("is_unmapped_guest", true))
	}
	sb.OrderBy("subscription_manager_id")

	query, args := sb.Build()
	var guests []models.HostRelationship
	if err := r.db.Conn(ctx).SelectContext(ctx, &guests, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find guests")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find guests")
	}

	return guests, nil
}
