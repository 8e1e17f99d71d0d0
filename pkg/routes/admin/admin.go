// Package admin serves the internal operations API.
package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/featureflags"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/outbox"
)

type OutboxCounter interface {
	Count(ctx context.Context) (int64, error)
}

type FlushRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

type RelationshipReader interface {
	GetRelationship(ctx context.Context, orgID, subscriptionManagerID string) (*models.HostRelationship, error)
	IsHypervisor(ctx context.Context, orgID, subscriptionManagerID string) (bool, error)
	GetGuests(ctx context.Context, orgID, hypervisorUUID string) ([]models.HostRelationship, error)
}

type Handler struct {
	outbox        OutboxCounter
	flusher       FlushRunner
	relationships RelationshipReader
	flags         featureflags.Setter
	logger        ectologger.Logger
}

func NewHandler(
	outboxCounter OutboxCounter,
	flusher FlushRunner,
	relationships RelationshipReader,
	flags featureflags.Setter,
	logger ectologger.Logger,
) *Handler {
	return &Handler{
		outbox:        outboxCounter,
		flusher:       flusher,
		relationships: relationships,
		flags:         flags,
		logger:        logger,
	}
}

// Register mounts the routes under g, which is expected at /api/v1/internal.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/outbox/count", h.CountOutbox)
	g.POST("/outbox/flush", h.FlushOutbox)
	g.GET("/relationships/:org_id/:subscription_manager_id", h.GetRelationship)
	g.GET("/flags/emit-events", h.GetEmitEvents)
	g.PUT("/flags/emit-events", h.SetEmitEvents)
}

type CountResponse struct {
	Count int64 `json:"count"`
}

func (h *Handler) CountOutbox(c echo.Context) error {
	count, err := h.outbox.Count(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{Count: count})
}

type FlushResponse struct {
	Flushed int `json:"flushed"`
}

func (h *Handler) FlushOutbox(c echo.Context) error {
	ctx := c.Request().Context()

	flushed, err := h.flusher.RunOnce(ctx)
	if errors.Is(err, outbox.ErrFlushInProgress) {
		return httperror.NewHTTPError(http.StatusConflict, "outbox flush already in progress")
	}
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithField("flushed", flushed).Info("Manual outbox flush complete")
	return c.JSON(http.StatusOK, FlushResponse{Flushed: flushed})
}

type RelationshipResponse struct {
	Relationship *models.HostRelationship  `json:"relationship"`
	IsHypervisor bool                      `json:"is_hypervisor"`
	Guests       []models.HostRelationship `json:"guests"`
}

func (h *Handler) GetRelationship(c echo.Context) error {
	ctx := c.Request().Context()
	orgID := c.Param("org_id")
	subscriptionManagerID := c.Param("subscription_manager_id")

	rel, err := h.relationships.GetRelationship(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return err
	}
	if rel == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "relationship not found")
	}

	isHypervisor, err := h.relationships.IsHypervisor(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return err
	}

	guests, err := h.relationships.GetGuests(ctx, orgID, subscriptionManagerID)
	if err != nil {
		return err
	}
	if guests == nil {
		guests = []models.HostRelationship{}
	}

	return c.JSON(http.StatusOK, RelationshipResponse{
		Relationship: rel,
		IsHypervisor: isHypervisor,
		Guests:       guests,
	})
}

type EmitEventsFlag struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) GetEmitEvents(c echo.Context) error {
	enabled := h.flags.EmitEvents(c.Request().Context())
	return c.JSON(http.StatusOK, EmitEventsFlag{Enabled: &enabled})
}

func (h *Handler) SetEmitEvents(c echo.Context) error {
	ctx := c.Request().Context()

	var req EmitEventsFlag
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}

	if err := h.flags.SetEmitEvents(ctx, *req.Enabled); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to update emit-events flag")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update flag")
	}

	h.logger.WithContext(ctx).WithField("enabled", *req.Enabled).Info("Updated emit-events flag")
	return c.JSON(http.StatusOK, req)
}
