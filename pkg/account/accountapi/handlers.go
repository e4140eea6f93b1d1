package accountapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/account/accountsrv"
	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// Handlers exposes registration, login and the caller's own account.
type Handlers struct {
	service *accountsrv.Service
}

func NewHandlers(service *accountsrv.Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts /auth/* and /account.
func (h *Handlers) RegisterRoutes(app fiber.Router, authMw *identity.TokenMiddleware) {
	auth := app.Group("/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Post("/logout", authMw.Authenticate(), h.Logout)

	app.Get("/account", authMw.Authenticate(), h.GetAccount)
	app.Put("/account", authMw.Authenticate(), h.UpdateAccount)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Register(c *fiber.Ctx) error {
	var req accountsrv.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	res, err := h.service.Register(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Handlers) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	res, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) Logout(c *fiber.Ctx) error {
	ac, ok := kernel.AuthFromContext(c.UserContext())
	if !ok {
		return identity.ErrUnauthorized()
	}
	if err := h.service.Logout(c.UserContext(), ac.AccessToken); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) GetAccount(c *fiber.Ctx) error {
	ident, ok := identity.FromFiber(c)
	if !ok {
		return identity.ErrUnauthorized()
	}

	view, err := h.service.GetAccount(c.UserContext(), ident)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (h *Handlers) UpdateAccount(c *fiber.Ctx) error {
	ident, ok := identity.FromFiber(c)
	if !ok {
		return identity.ErrUnauthorized()
	}

	var patch account.ProfilePatch
	if err := c.BodyParser(&patch); err != nil {
		return errx.Validation("invalid request body")
	}

	view, err := h.service.UpdateAccount(c.UserContext(), ident, patch)
	if err != nil {
		return err
	}
	return c.JSON(view)
}
