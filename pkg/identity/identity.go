package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// ============================================================================
// Entities
// ============================================================================

// Metadata is the profile hint the identity provider stores next to an identity.
// It is read once when the application profile is first created.
type Metadata struct {
	Role      string `json:"role,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Identity is owned by the identity provider and read-mostly here.
type Identity struct {
	ID            kernel.IdentityID `json:"id"`
	Email         string            `json:"email"`
	EmailVerified bool              `json:"email_verified"`
	Metadata      Metadata          `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NormalizedEmail returns the lower-cased, trimmed email used as the profile key.
func (i *Identity) NormalizedEmail() string {
	return NormalizeEmail(i.Email)
}

// AuthContext converts the identity into the per-request caller context.
func (i *Identity) AuthContext(accessToken string) *kernel.AuthContext {
	return &kernel.AuthContext{
		IdentityID:  i.ID,
		Email:       i.NormalizedEmail(),
		AccessToken: accessToken,
		Metadata: map[string]any{
			"role":       i.Metadata.Role,
			"first_name": i.Metadata.FirstName,
			"last_name":  i.Metadata.LastName,
			"phone":      i.Metadata.Phone,
		},
	}
}

// Session is what a successful sign-in returns.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IDENTITY")

var (
	CodeInvalidCredentials  = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid email or password")
	CodeIdentityNotFound    = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Identity not found")
	CodeAlreadyRegistered   = ErrRegistry.Register("ALREADY_REGISTERED", errx.TypeConflict, http.StatusConflict, "An account with this email already exists")
	CodeProviderUnavailable = ErrRegistry.Register("PROVIDER_UNAVAILABLE", errx.TypeUnavailable, http.StatusServiceUnavailable, "Identity provider temporarily unavailable")
	CodeProviderRejected    = ErrRegistry.Register("PROVIDER_REJECTED", errx.TypeExternal, http.StatusBadGateway, "Identity provider rejected the request")
	CodeUnauthorized        = ErrRegistry.Register("UNAUTHORIZED", errx.TypeAuthorization, http.StatusUnauthorized, "Unauthorized")
	CodeInvalidToken        = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid or expired access token")
)

func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidCredentials) }
func ErrIdentityNotFound() *errx.Error   { return ErrRegistry.New(CodeIdentityNotFound) }
func ErrAlreadyRegistered() *errx.Error  { return ErrRegistry.New(CodeAlreadyRegistered) }
func ErrUnauthorized() *errx.Error       { return ErrRegistry.New(CodeUnauthorized) }
func ErrInvalidToken() *errx.Error       { return ErrRegistry.New(CodeInvalidToken) }

// ErrProviderUnavailable is the TransientProviderError: retryable by the caller.
func ErrProviderUnavailable(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeProviderUnavailable, cause)
}

func ErrProviderRejected(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeProviderRejected, cause)
}

// OutcomeUnknown reports whether err leaves open if the provider applied the
// call: the request went out but no answer came back in time.
func OutcomeUnknown(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
