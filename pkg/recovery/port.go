package recovery

import (
	"context"
	"time"

	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// CodeStore keeps one Session per email.
//
// Put overwrites whatever is stored for the email. CompareAndSwap writes next
// only if the stored version still equals expectedVersion, returning
// ErrVersionConflict otherwise. Get returns ErrSessionNotFound when absent.
// Both writes set next.Version to the stored version.
type CodeStore interface {
	Put(ctx context.Context, session *Session) error
	Get(ctx context.Context, email string) (*Session, error)
	CompareAndSwap(ctx context.Context, email string, expectedVersion int64, next *Session) error
	// Delete removes the session if its version still equals expectedVersion.
	// A missing session is not an error.
	Delete(ctx context.Context, email string, expectedVersion int64) error
}

// RequestLimiter throttles code requests per email, whether or not an account
// exists for it. Allow returns ErrTooManyRequests once the email has used up
// its window.
type RequestLimiter interface {
	Allow(ctx context.Context, email string) error
}

// Notifier delivers a one-time code to its owner.
type Notifier interface {
	SendCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// Credentials is the part of the identity provider recovery needs.
type Credentials interface {
	LookupIdentity(ctx context.Context, email string) (*identity.Identity, error)
	UpdateCredential(ctx context.Context, id kernel.IdentityID, newPassword string) error
}

// AuditLogger records recovery events. Codes, tokens and passwords are never passed.
type AuditLogger interface {
	LogRequested(ctx context.Context, email string, delivery DeliveryStatus)
	LogCodeVerified(ctx context.Context, email string)
	LogCodeRejected(ctx context.Context, email string, reason Reason, remaining int)
	LogCompleted(ctx context.Context, email string)
}
