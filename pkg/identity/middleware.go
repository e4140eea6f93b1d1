package identity

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/homestead/pkg/kernel"
)

const identityLocal = "identity"

// TokenMiddleware authenticates requests with provider-issued bearer tokens.
type TokenMiddleware struct {
	verifier TokenVerifier
}

// NewTokenMiddleware creates the middleware.
func NewTokenMiddleware(verifier TokenVerifier) *TokenMiddleware {
	return &TokenMiddleware{verifier: verifier}
}

// Authenticate validates the bearer token (or access_token cookie) and attaches
// the caller to both the fiber locals and the request's user context.
func (m *TokenMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies("access_token")
		}
		if token == "" {
			return ErrUnauthorized()
		}

		ident, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			return err
		}

		ac := ident.AuthContext(token)
		c.Locals(identityLocal, ident)
		c.Locals("auth", ac)
		c.SetUserContext(kernel.WithAuth(c.UserContext(), ac))

		return c.Next()
	}
}

// FromFiber returns the identity attached by Authenticate.
func FromFiber(c *fiber.Ctx) (*Identity, bool) {
	ident, ok := c.Locals(identityLocal).(*Identity)
	return ident, ok && ident != nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
