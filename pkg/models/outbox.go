package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// OutboxRecord is a normalized event waiting to be published.
type OutboxRecord struct {
	ID          uuid.UUID                   `db:"id" json:"id"`
	OrgID       string                      `db:"org_id" json:"org_id"`
	SwatchEvent database.JSONB[SwatchEvent] `db:"swatch_event_json" json:"swatch_event"`
	CreatedDate time.Time                   `db:"created_date" json:"created_date"`
}
