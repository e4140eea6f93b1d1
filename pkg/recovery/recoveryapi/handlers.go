package recoveryapi

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/errx/errxfiber"
	"github.com/Abraxas-365/homestead/pkg/recovery"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoverysrv"
)

// Handlers exposes the three steps of password recovery.
type Handlers struct {
	service *recoverysrv.Service
}

func NewHandlers(service *recoverysrv.Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts /recovery/*. None of the routes require a session.
func (h *Handlers) RegisterRoutes(app fiber.Router) {
	r := app.Group("/recovery")
	r.Post("/request", h.Request)
	r.Post("/verify", h.Verify)
	r.Post("/reset", h.Reset)
}

type requestBody struct {
	Email string `json:"email"`
}

type verifyBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetBody struct {
	Email       string `json:"email"`
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

// rejection is the 400 body of a failed verify or reset step.
type rejection struct {
	Reason    recovery.Reason `json:"reason"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	RequestID string          `json:"request_id,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
}

// Request always answers 202 for a well-formed email, whether or not an
// account exists. Only a failed delivery is reported.
func (h *Handlers) Request(c *fiber.Ctx) error {
	var req requestBody
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	res, err := h.service.RequestReset(c.UserContext(), req.Email)
	if err != nil {
		var e *errx.Error
		if errx.IsCode(err, recovery.CodeTooManyRequests) && errors.As(err, &e) {
			if secs, ok := e.Details["retry_after_seconds"].(int); ok {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			}
		}
		return err
	}

	body := fiber.Map{"status": "accepted"}
	if res.Delivery == recovery.DeliveryFailed {
		body["delivery"] = string(recovery.DeliveryFailed)
	}
	return c.Status(fiber.StatusAccepted).JSON(body)
}

func (h *Handlers) Verify(c *fiber.Ctx) error {
	var req verifyBody
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	res, err := h.service.VerifyCode(c.UserContext(), req.Email, req.Code)
	if err != nil {
		return reject(c, err)
	}
	return c.JSON(fiber.Map{
		"reset_token": res.ResetToken,
		"expires_at":  res.ExpiresAt,
	})
}

func (h *Handlers) Reset(c *fiber.Ctx) error {
	var req resetBody
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	if err := h.service.ResetPassword(c.UserContext(), req.Email, req.ResetToken, req.NewPassword); err != nil {
		return reject(c, err)
	}
	return c.JSON(fiber.Map{"status": "password_updated"})
}

// reject renders state-machine failures as 400 with a reason. Anything else
// goes to the global error handler.
func reject(c *fiber.Ctx, err error) error {
	reason, ok := recovery.ReasonOf(err)
	if !ok {
		return err
	}

	var e *errx.Error
	errors.As(err, &e)

	// An unknown session answers like a wrong code.
	if errx.IsCode(err, recovery.CodeSessionNotFound) {
		e = recovery.ErrInvalidCode()
	}

	return c.Status(fiber.StatusBadRequest).JSON(rejection{
		Reason:    reason,
		Error:     e.Message,
		Code:      e.Code,
		RequestID: errxfiber.RequestID(c),
		Details:   e.Details,
	})
}
