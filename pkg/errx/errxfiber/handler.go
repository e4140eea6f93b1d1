// Package errxfiber renders errx errors as fiber responses.
package errxfiber

import (
	"errors"
	"maps"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/logx"
)

// RequestIDHeader carries the per-request id set by the requestid middleware.
const RequestIDHeader = "X-Request-ID"

// ErrorHandler converts errors returned by handlers into JSON responses.
// With debug set, the underlying cause is included.
func ErrorHandler(debug bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID := RequestID(c)

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error":      fe.Message,
				"code":       "FIBER_ERROR",
				"status":     fe.Code,
				"request_id": requestID,
			})
		}

		var e *errx.Error
		if !errors.As(err, &e) {
			logx.WithContext(c.UserContext()).WithFields(logx.Fields{
				"path":   c.Path(),
				"method": c.Method(),
			}).WithError(err).Error("unhandled request error")

			return c.Status(fiber.StatusInternalServerError).JSON(errx.Response{
				Error:     "Internal Server Error",
				Code:      "INTERNAL_ERROR",
				Type:      string(errx.TypeInternal),
				Status:    fiber.StatusInternalServerError,
				RequestID: requestID,
			})
		}

		entry := logx.WithContext(c.UserContext()).WithFields(logx.Fields{
			"path":   c.Path(),
			"method": c.Method(),
			"code":   e.Code,
		})
		if e.HTTPStatus >= fiber.StatusInternalServerError {
			entry.WithError(err).Error("request failed")
		} else {
			entry.Debug("request rejected")
		}

		resp := e.ToResponse(requestID)
		if debug && e.Err != nil {
			details := make(map[string]any, len(resp.Details)+1)
			maps.Copy(details, resp.Details)
			details["underlying_error"] = e.Err.Error()
			resp.Details = details
		}
		if e.Type.Retryable() {
			c.Set(fiber.HeaderRetryAfter, "1")
		}
		return c.Status(e.HTTPStatus).JSON(resp)
	}
}

// RequestID returns the id of the current request, or "" if none was assigned.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	if id := c.Get(RequestIDHeader); id != "" {
		return id
	}
	return string(c.Response().Header.Peek(RequestIDHeader))
}
