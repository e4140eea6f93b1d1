package recoverysrv

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Abraxas-365/homestead/pkg/asyncx"
	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/logx"
	"github.com/Abraxas-365/homestead/pkg/recovery"
)

// Config fixes the numeric and timing constants of the recovery flow.
type Config struct {
	CodeLength    int
	CodeTTL       time.Duration
	MaxAttempts   int
	ResetTokenTTL time.Duration
	// CASRetries bounds how often a session update is retried after losing a race.
	CASRetries  int
	BcryptCost  int
	CallTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CodeLength:    6,
		CodeTTL:       10 * time.Minute,
		MaxAttempts:   5,
		ResetTokenTTL: 10 * time.Minute,
		CASRetries:    3,
		BcryptCost:    bcrypt.DefaultCost,
		CallTimeout:   5 * time.Second,
	}
}

// Service drives the request, verify and reset steps of credential recovery.
type Service struct {
	store       recovery.CodeStore
	limiter     recovery.RequestLimiter
	notifier    recovery.Notifier
	credentials recovery.Credentials
	audit       recovery.AuditLogger
	clock       kernel.Clock
	cfg         Config
}

// NewService wires the flow. A nil limiter leaves code requests unthrottled.
func NewService(
	store recovery.CodeStore,
	limiter recovery.RequestLimiter,
	notifier recovery.Notifier,
	credentials recovery.Credentials,
	audit recovery.AuditLogger,
	clock kernel.Clock,
	cfg Config,
) *Service {
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	return &Service{
		store:       store,
		limiter:     limiter,
		notifier:    notifier,
		credentials: credentials,
		audit:       audit,
		clock:       clock,
		cfg:         cfg,
	}
}

// ============================================================================
// RequestReset
// ============================================================================

// RequestReset issues a fresh code for email, replacing any earlier session.
// Unknown emails get the same result, throttling included, without anything
// being stored or sent. A failed delivery keeps the code valid and is
// reported in the result.
func (s *Service) RequestReset(ctx context.Context, email string) (*recovery.RequestResult, error) {
	if !identity.ValidEmail(email) {
		return nil, recovery.ErrInvalidEmail()
	}
	email = identity.NormalizeEmail(email)
	now := s.clock.Now()

	if s.limiter != nil {
		if err := s.storeCall(ctx, func(ctx context.Context) error {
			return s.limiter.Allow(ctx, email)
		}); err != nil {
			return nil, err
		}
	}

	expiresAt := now.Add(s.cfg.CodeTTL)

	if _, err := s.lookup(ctx, email); err != nil {
		if errx.IsCode(err, identity.CodeIdentityNotFound) {
			s.audit.LogRequested(ctx, email, recovery.DeliverySkipped)
			return &recovery.RequestResult{Delivery: recovery.DeliverySkipped, ExpiresAt: expiresAt}, nil
		}
		return nil, err
	}

	code, err := recovery.GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, recovery.ErrCodeGenerationFailed(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
	if err != nil {
		return nil, recovery.ErrCodeGenerationFailed(err)
	}

	session := &recovery.Session{
		Email:       email,
		CodeHash:    string(hash),
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
		MaxAttempts: s.cfg.MaxAttempts,
		State:       recovery.StateCodeIssued,
	}
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.Put(ctx, session)
	}); err != nil {
		return nil, err
	}

	result := &recovery.RequestResult{Delivery: recovery.DeliverySent, ExpiresAt: expiresAt}
	if err := asyncx.Call(ctx, s.cfg.CallTimeout, func(ctx context.Context) error {
		return s.notifier.SendCode(ctx, email, code, expiresAt)
	}); err != nil {
		logx.WithContext(ctx).WithError(err).WithField("email", email).Warn("recovery code delivery failed")
		result.Delivery = recovery.DeliveryFailed
	}

	s.audit.LogRequested(ctx, email, result.Delivery)
	return result, nil
}

// ============================================================================
// VerifyCode
// ============================================================================

// VerifyCode checks code against the session for email. A match moves the
// session to Verified and returns a single-use reset token. A mismatch counts
// against the attempt limit; reaching it invalidates the session.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (*recovery.VerifyResult, error) {
	email = identity.NormalizeEmail(email)
	now := s.clock.Now()

	var result *recovery.VerifyResult
	err := s.mutate(ctx, email, func(cur *recovery.Session) (*recovery.Session, error) {
		result = nil

		// A code is spent once it has produced a token.
		if cur.Consumed || cur.State == recovery.StateCompleted || cur.State == recovery.StateVerified {
			return nil, recovery.ErrSessionNotFound()
		}
		switch cur.State {
		case recovery.StateAttemptsExceeded:
			return nil, recovery.ErrAttemptsExceeded()
		case recovery.StateExpired:
			return nil, recovery.ErrExpired()
		}

		next := cur.Clone()

		if cur.IsExpired(now) {
			next.State = recovery.StateExpired
			return next, recovery.ErrExpired()
		}

		if bcrypt.CompareHashAndPassword([]byte(cur.CodeHash), []byte(code)) != nil {
			next.AttemptCount++
			if next.AttemptCount >= next.MaxAttempts {
				next.State = recovery.StateAttemptsExceeded
				return next, recovery.ErrAttemptsExceeded()
			}
			return next, recovery.ErrInvalidCode().WithDetail("remaining_attempts", next.RemainingAttempts())
		}

		token, err := recovery.GenerateResetToken()
		if err != nil {
			return nil, recovery.ErrCodeGenerationFailed(err)
		}
		next.State = recovery.StateVerified
		next.VerifiedAt = now
		next.ResetTokenHash = recovery.HashToken(token)
		next.ResetTokenExpiresAt = now.Add(s.cfg.ResetTokenTTL)

		result = &recovery.VerifyResult{ResetToken: token, ExpiresAt: next.ResetTokenExpiresAt}
		return next, nil
	})

	if err != nil {
		if reason, ok := recovery.ReasonOf(err); ok {
			remaining := 0
			var e *errx.Error
			if errors.As(err, &e) {
				remaining, _ = e.Details["remaining_attempts"].(int)
			}
			s.audit.LogCodeRejected(ctx, email, reason, remaining)
		}
		return nil, err
	}

	s.audit.LogCodeVerified(ctx, email)
	return result, nil
}

// ============================================================================
// ResetPassword
// ============================================================================

// ResetPassword sets newPassword for the identity owning email, given the
// token issued by VerifyCode. The token works at most once.
func (s *Service) ResetPassword(ctx context.Context, email, resetToken, newPassword string) error {
	email = identity.NormalizeEmail(email)
	now := s.clock.Now()

	cur, err := s.get(ctx, email)
	if err != nil {
		if errx.IsCode(err, recovery.CodeSessionNotFound) {
			return recovery.ErrInvalidToken()
		}
		return err
	}
	if err := checkToken(cur, resetToken, now); err != nil {
		return err
	}

	if unmet := identity.UnmetPasswordRules(newPassword); len(unmet) > 0 {
		return recovery.ErrPasswordPolicyViolation(unmet)
	}

	ident, err := s.lookup(ctx, email)
	if err != nil {
		if errx.IsCode(err, identity.CodeIdentityNotFound) {
			return recovery.ErrInvalidToken()
		}
		return err
	}

	// Claim the token before the provider call so concurrent submissions of
	// the same token cannot both change the password.
	var claimed *recovery.Session
	err = s.mutate(ctx, email, func(cur *recovery.Session) (*recovery.Session, error) {
		if err := checkToken(cur, resetToken, now); err != nil {
			return nil, err
		}
		claimed = cur.Clone()
		claimed.Consumed = true
		claimed.State = recovery.StateCompleted
		return claimed, nil
	})
	if errx.IsCode(err, recovery.CodeSessionNotFound) {
		// A concurrent reset completed and removed the session.
		return recovery.ErrInvalidToken()
	}
	if err != nil {
		return err
	}

	if err := s.providerCall(ctx, func(ctx context.Context) error {
		return s.credentials.UpdateCredential(ctx, ident.ID, newPassword)
	}); err != nil {
		if identity.OutcomeUnknown(err) {
			// The update may still land; the token stays spent.
			logx.WithContext(ctx).WithError(err).WithField("email", email).
				Warn("credential update outcome unknown, reset token not released")
			return err
		}
		s.release(ctx, email, claimed.Version)
		return err
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, email, claimed.Version)
	}); err != nil {
		logx.WithContext(ctx).WithError(err).WithField("email", email).Debug("completed recovery session not removed")
	}

	s.audit.LogCompleted(ctx, email)
	return nil
}

// release reopens a claimed session after the provider refused the update, so
// the caller can retry with the same token.
func (s *Service) release(ctx context.Context, email string, version int64) {
	err := s.mutate(ctx, email, func(cur *recovery.Session) (*recovery.Session, error) {
		if cur.Version != version {
			return nil, recovery.ErrVersionConflict()
		}
		next := cur.Clone()
		next.Consumed = false
		next.State = recovery.StateVerified
		return next, nil
	})
	if err != nil {
		logx.WithContext(ctx).WithError(err).WithField("email", email).Warn("could not release recovery session")
	}
}

func checkToken(s *recovery.Session, token string, now time.Time) error {
	if s.Consumed || s.State != recovery.StateVerified {
		return recovery.ErrInvalidToken()
	}
	if !recovery.TokenMatches(token, s.ResetTokenHash) {
		return recovery.ErrInvalidToken()
	}
	if now.After(s.ResetTokenExpiresAt) {
		return recovery.ErrInvalidToken().WithDetail("expired", true)
	}
	return nil
}

// ============================================================================
// Session mutation
// ============================================================================

// transition computes the next state of a session. A nil next with an error
// leaves the store untouched; a non-nil next is written even when an error is
// returned, and the error is reported once the write succeeds.
type transition func(cur *recovery.Session) (next *recovery.Session, err error)

// mutate runs a read-modify-write on the session for email using optimistic
// versioning, retrying up to CASRetries times when another request wins.
func (s *Service) mutate(ctx context.Context, email string, fn transition) error {
	for attempt := 0; attempt <= s.cfg.CASRetries; attempt++ {
		cur, err := s.get(ctx, email)
		if err != nil {
			return err
		}

		next, outcome := fn(cur)
		if next == nil {
			return outcome
		}

		err = s.storeCall(ctx, func(ctx context.Context) error {
			return s.store.CompareAndSwap(ctx, email, cur.Version, next)
		})
		if errx.IsCode(err, recovery.CodeVersionConflict) {
			logx.WithContext(ctx).WithFields(logx.Fields{
				"email":   email,
				"attempt": attempt + 1,
			}).Debug("recovery session changed concurrently, retrying")
			continue
		}
		if err != nil {
			return err
		}
		return outcome
	}

	return recovery.ErrStoreUnavailable(errors.New("session update kept conflicting")).
		WithDetail("retries", s.cfg.CASRetries)
}

func (s *Service) get(ctx context.Context, email string) (*recovery.Session, error) {
	sess, err := asyncx.WithTimeout(ctx, s.cfg.CallTimeout, func(ctx context.Context) (*recovery.Session, error) {
		return s.store.Get(ctx, email)
	})
	return sess, storeTimeout(err)
}

func (s *Service) storeCall(ctx context.Context, fn func(context.Context) error) error {
	return storeTimeout(asyncx.Call(ctx, s.cfg.CallTimeout, fn))
}

func (s *Service) lookup(ctx context.Context, email string) (*identity.Identity, error) {
	ident, err := asyncx.WithTimeout(ctx, s.cfg.CallTimeout, func(ctx context.Context) (*identity.Identity, error) {
		return s.credentials.LookupIdentity(ctx, email)
	})
	return ident, providerTimeout(err)
}

func (s *Service) providerCall(ctx context.Context, fn func(context.Context) error) error {
	return providerTimeout(asyncx.Call(ctx, s.cfg.CallTimeout, fn))
}

func storeTimeout(err error) error {
	if isBareContextErr(err) {
		return recovery.ErrStoreUnavailable(err)
	}
	return err
}

func providerTimeout(err error) error {
	if isBareContextErr(err) {
		return identity.ErrProviderUnavailable(err)
	}
	return err
}

func isBareContextErr(err error) bool {
	if err == nil {
		return false
	}
	var e *errx.Error
	if errors.As(err, &e) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
