package accountsrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/asyncx"
	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/logx"
)

// SyncOutcome tells how a freshly registered identity got its profile. Both
// values are success states.
type SyncOutcome string

const (
	// SyncConfirmed means the profile appeared in the store while polling.
	SyncConfirmed SyncOutcome = "confirmed"
	// SyncFallbackApplied means polling ran out and the profile was created directly.
	SyncFallbackApplied SyncOutcome = "fallback_applied"
)

// Poller bridges the gap between identity creation and its mirroring into the
// profile store.
type Poller struct {
	store      account.ProfileStore
	reconciler *Reconciler
	attempts   int
}

// NewPoller creates a poller that checks the store at most attempts times.
func NewPoller(store account.ProfileStore, reconciler *Reconciler, attempts int) *Poller {
	if attempts < 1 {
		attempts = 1
	}
	return &Poller{
		store:      store,
		reconciler: reconciler,
		attempts:   attempts,
	}
}

// WaitForSync polls for the profile of ident every pollInterval until it is
// found, the attempts run out, or timeout elapses. When it is not found it
// falls back to EnsureRegistered. Slow replication is never an error; only a
// failing fallback is.
func (p *Poller) WaitForSync(ctx context.Context, ident *identity.Identity, timeout, pollInterval time.Duration) (SyncOutcome, *account.Profile, error) {
	if ident == nil || ident.ID.IsEmpty() {
		return "", nil, account.ErrMalformedIdentity().WithDetail("field", "id")
	}

	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := logx.WithContext(ctx).WithField("identity_id", ident.ID)

	if profile := p.poll(pollCtx, ident, pollInterval, log); profile != nil {
		if _, err := p.reconciler.EnsureExtension(ctx, profile); err != nil {
			return "", nil, err
		}
		log.WithField("sync_outcome", SyncConfirmed).Debug("profile mirrored")
		return SyncConfirmed, profile, nil
	}

	// The poll budget is spent; the fallback runs on the caller's context.
	profile, err := p.reconciler.EnsureRegistered(ctx, ident)
	if err != nil {
		return "", nil, err
	}
	log.WithField("sync_outcome", SyncFallbackApplied).Info("profile not mirrored in time, created directly")
	return SyncFallbackApplied, profile, nil
}

func (p *Poller) poll(ctx context.Context, ident *identity.Identity, interval time.Duration, log *logx.Entry) *account.Profile {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		profile, err := timed(ctx, p.reconciler.storeTimeout, func(ctx context.Context) (*account.Profile, error) {
			return p.store.GetProfileByID(ctx, ident.ID)
		})
		switch {
		case err == nil:
			return profile
		case !errx.IsCode(err, account.CodeProfileNotFound):
			log.WithError(err).WithField("attempt", attempt).Warn("sync poll failed")
		}

		if attempt == p.attempts {
			break
		}
		if err := asyncx.Sleep(ctx, interval); err != nil {
			return nil
		}
	}
	return nil
}
