package accountsrv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/asyncx"
	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/logx"
)

// Reconciler keeps an application profile, and exactly one matching role
// extension, in step with each authenticated identity.
type Reconciler struct {
	store        account.ProfileStore
	audit        account.AuditLogger
	clock        kernel.Clock
	storeTimeout time.Duration
}

// NewReconciler creates the engine. storeTimeout bounds every store call.
func NewReconciler(store account.ProfileStore, audit account.AuditLogger, clock kernel.Clock, storeTimeout time.Duration) *Reconciler {
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	return &Reconciler{
		store:        store,
		audit:        audit,
		clock:        clock,
		storeTimeout: storeTimeout,
	}
}

// EnsureSynced guarantees a profile whose id equals ident.ID exists for the
// identity's email, together with its role extension, and returns it.
//
// Uniqueness conflicts on insert mean a concurrent caller created the row
// first and are absorbed. The role of an existing profile is never changed.
func (r *Reconciler) EnsureSynced(ctx context.Context, ident *identity.Identity) (*account.Profile, error) {
	profile, _, err := r.sync(ctx, ident, true)
	return profile, err
}

// EnsureRegistered is EnsureSynced for an identity fresh from sign-up, which
// the provider has not authenticated yet. It never moves an existing profile
// to a new id: a profile holding the email under another id means the email
// is already registered.
func (r *Reconciler) EnsureRegistered(ctx context.Context, ident *identity.Identity) (*account.Profile, error) {
	profile, _, err := r.sync(ctx, ident, false)
	return profile, err
}

// sync reconciles ident and returns its profile and extension. repair allows
// the profile id to be moved to ident.ID.
func (r *Reconciler) sync(ctx context.Context, ident *identity.Identity, repair bool) (*account.Profile, *account.Extension, error) {
	if ident == nil || ident.ID.IsEmpty() {
		return nil, nil, account.ErrMalformedIdentity().WithDetail("field", "id")
	}
	email := ident.NormalizedEmail()
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, account.ErrMalformedIdentity().WithDetail("field", "email")
	}

	now := r.clock.Now()

	profile, err := r.getByEmail(ctx, email)
	if errx.IsCode(err, account.CodeProfileNotFound) {
		profile, err = r.createProfile(ctx, ident, now)
	}
	if err != nil {
		return nil, nil, err
	}

	if profile.ID != ident.ID {
		if !repair {
			logx.WithContext(ctx).WithFields(logx.Fields{
				"profile_id":  profile.ID,
				"identity_id": ident.ID,
			}).Warn("sign-up returned an identity for an email held by another profile")
			return nil, nil, identity.ErrAlreadyRegistered()
		}
		if err := r.repairID(ctx, profile, ident.ID); err != nil {
			return nil, nil, err
		}
	}

	ext, err := r.EnsureExtension(ctx, profile)
	if err != nil {
		return nil, nil, err
	}

	return profile, ext, nil
}

// EnsureExtension returns the role extension of profile, creating the default
// variant for profile.Role when none exists.
func (r *Reconciler) EnsureExtension(ctx context.Context, profile *account.Profile) (*account.Extension, error) {
	ext, err := r.getExtension(ctx, profile.ID)
	if err == nil {
		if !ext.Matches(profile.Role) {
			// Role changes are an administrative operation; the stored variant is left alone.
			logx.WithContext(ctx).WithFields(logx.Fields{
				"profile_id":     profile.ID,
				"profile_role":   profile.Role,
				"extension_role": ext.Role,
			}).Warn("role extension does not match profile role")
		}
		return ext, nil
	}
	if !errx.IsCode(err, account.CodeExtensionNotFound) {
		return nil, err
	}

	ext = account.NewExtensionFor(profile, r.clock.Now())
	err = r.call(ctx, func(ctx context.Context) error {
		return r.store.InsertExtension(ctx, ext)
	})
	switch {
	case err == nil:
		r.audit.LogExtensionHealed(ctx, profile.ID, ext.Role)
		return ext, nil
	case errx.IsCode(err, account.CodeConflict):
		return r.getExtension(ctx, profile.ID)
	default:
		return nil, err
	}
}

func (r *Reconciler) createProfile(ctx context.Context, ident *identity.Identity, now time.Time) (*account.Profile, error) {
	profile := account.NewProfileFromIdentity(ident, now)

	err := r.call(ctx, func(ctx context.Context) error {
		return r.store.InsertProfile(ctx, profile)
	})
	switch {
	case err == nil:
		r.audit.LogProfileCreated(ctx, profile)
		return profile, nil
	case errx.IsCode(err, account.CodeConflict):
		// Another request won the race. Its row is the profile.
		winner, err := r.getByEmail(ctx, profile.Email)
		if errx.IsCode(err, account.CodeProfileNotFound) {
			return nil, account.ErrSyncUnresolved().
				WithDetail("email", profile.Email).
				WithDetail("reason", "insert conflicted but no profile holds the email")
		}
		return winner, err
	default:
		return nil, err
	}
}

func (r *Reconciler) repairID(ctx context.Context, profile *account.Profile, id kernel.IdentityID) error {
	from := profile.ID
	err := r.call(ctx, func(ctx context.Context) error {
		return r.store.UpdateProfileId(ctx, profile.Email, id)
	})
	if err != nil {
		return err
	}
	profile.ID = id
	r.audit.LogProfileIDRepaired(ctx, profile.Email, from, id)
	return nil
}

func (r *Reconciler) getByEmail(ctx context.Context, email string) (*account.Profile, error) {
	return timed(ctx, r.storeTimeout, func(ctx context.Context) (*account.Profile, error) {
		return r.store.GetProfileByEmail(ctx, email)
	})
}

func (r *Reconciler) getExtension(ctx context.Context, id kernel.IdentityID) (*account.Extension, error) {
	return timed(ctx, r.storeTimeout, func(ctx context.Context) (*account.Extension, error) {
		return r.store.GetExtension(ctx, id)
	})
}

func (r *Reconciler) call(ctx context.Context, fn func(context.Context) error) error {
	_, err := timed(ctx, r.storeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// timed runs a store call under d and reports a blown deadline as
// ErrStoreUnavailable.
func timed[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := asyncx.WithTimeout(ctx, d, fn)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		var e *errx.Error
		if !errors.As(err, &e) {
			return v, account.ErrStoreUnavailable(err)
		}
	}
	return v, err
}
