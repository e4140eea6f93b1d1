package identity

import (
	"context"

	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// Provider is the narrow interface over the external authority for identities,
// sessions and credential updates. Implementations must honor ctx deadlines and
// report timeouts and 5xx responses as ErrProviderUnavailable.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*Identity, *Session, error)
	SignUp(ctx context.Context, email, password string, meta Metadata) (*Identity, error)
	// LookupIdentity returns ErrIdentityNotFound when no identity owns email.
	LookupIdentity(ctx context.Context, email string) (*Identity, error)
	UpdateCredential(ctx context.Context, id kernel.IdentityID, newPassword string) error
	SignOut(ctx context.Context, session *Session) error
}

// TokenVerifier turns a provider-issued access token into the identity it names.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*Identity, error)
}
