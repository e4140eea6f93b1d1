package account

import (
	"context"

	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// ProfileStore is the narrow CRUD interface over profiles and role extensions.
//
// Lookups return ErrProfileNotFound / ErrExtensionNotFound when absent.
// Inserts return ErrConflict when a uniqueness constraint (profile email or id,
// extension profile id) rejects the row. Infrastructure failures are
// ErrStoreUnavailable.
type ProfileStore interface {
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)
	GetProfileByID(ctx context.Context, id kernel.IdentityID) (*Profile, error)
	InsertProfile(ctx context.Context, p *Profile) error
	UpdateProfileId(ctx context.Context, email string, newID kernel.IdentityID) error
	UpdateProfile(ctx context.Context, p *Profile) error

	GetExtension(ctx context.Context, profileID kernel.IdentityID) (*Extension, error)
	InsertExtension(ctx context.Context, ext *Extension) error
	UpdateExtension(ctx context.Context, ext *Extension) error
}

// AuditLogger records account lifecycle events.
type AuditLogger interface {
	LogProfileCreated(ctx context.Context, p *Profile)
	LogProfileIDRepaired(ctx context.Context, email string, from, to kernel.IdentityID)
	LogExtensionHealed(ctx context.Context, profileID kernel.IdentityID, role Role)
	LogLogin(ctx context.Context, email string, success bool)
	LogRegistered(ctx context.Context, p *Profile, outcome string)
}
