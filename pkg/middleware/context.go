package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/appctx"
)

// HeaderOrgID scopes admin requests to an organization.
const HeaderOrgID = "X-Org-ID"

// Context copies request identity into the request context.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := appctx.SetRequestID(req.Context(), requestID)
			if orgID := req.Header.Get(HeaderOrgID); orgID != "" {
				ctx = appctx.SetOrgID(ctx, orgID)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
