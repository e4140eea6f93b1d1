package accountsrv

import (
	"context"
	"errors"
	"time"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/asyncx"
	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// Config holds the timing knobs of the account flows.
type Config struct {
	ProviderTimeout time.Duration
	SyncBudget      time.Duration
	PollInterval    time.Duration
}

// Service funnels login, registration and account access through the
// reconciliation engine.
type Service struct {
	provider   identity.Provider
	store      account.ProfileStore
	reconciler *Reconciler
	poller     *Poller
	audit      account.AuditLogger
	clock      kernel.Clock
	cfg        Config
}

func NewService(
	provider identity.Provider,
	store account.ProfileStore,
	reconciler *Reconciler,
	poller *Poller,
	audit account.AuditLogger,
	clock kernel.Clock,
	cfg Config,
) *Service {
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	return &Service{
		provider:   provider,
		store:      store,
		reconciler: reconciler,
		poller:     poller,
		audit:      audit,
		clock:      clock,
		cfg:        cfg,
	}
}

// ============================================================================
// DTOs
// ============================================================================

type LoginResult struct {
	Profile *account.Profile  `json:"profile"`
	Session *identity.Session `json:"session"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type RegisterResult struct {
	Profile *account.Profile `json:"profile"`
	Sync    SyncOutcome      `json:"sync"`
}

type AccountView struct {
	Profile   *account.Profile   `json:"profile"`
	Extension *account.Extension `json:"extension"`
}

// ============================================================================
// Operations
// ============================================================================

// Login signs the caller in and makes sure their profile exists.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = identity.NormalizeEmail(email)
	if !identity.ValidEmail(email) || password == "" {
		return nil, identity.ErrInvalidCredentials()
	}

	type signIn struct {
		ident   *identity.Identity
		session *identity.Session
	}
	res, err := providerCall(ctx, s.cfg.ProviderTimeout, func(ctx context.Context) (signIn, error) {
		ident, session, err := s.provider.SignIn(ctx, email, password)
		return signIn{ident, session}, err
	})
	if err != nil {
		s.audit.LogLogin(ctx, email, false)
		return nil, err
	}

	profile, err := s.reconciler.EnsureSynced(ctx, res.ident)
	if err != nil {
		return nil, err
	}

	s.audit.LogLogin(ctx, email, true)
	return &LoginResult{Profile: profile, Session: res.session}, nil
}

// Register creates the identity, then waits for (or creates) its profile.
// Admin accounts cannot be self-registered.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	email := identity.NormalizeEmail(req.Email)
	if !identity.ValidEmail(email) {
		return nil, account.ErrInvalidProfile().WithDetail("field", "email")
	}
	if unmet := identity.UnmetPasswordRules(req.Password); len(unmet) > 0 {
		return nil, account.ErrInvalidProfile().
			WithDetail("field", "password").
			WithDetail("unmet_rules", unmet)
	}

	role := account.RoleCustomer
	if req.Role != "" {
		r, ok := account.ParseRole(req.Role)
		if !ok {
			return nil, account.ErrInvalidProfile().WithDetail("field", "role")
		}
		role = r
	}
	if role == account.RoleAdmin {
		return nil, account.ErrRoleNotAllowed().WithDetail("role", role)
	}

	meta := identity.Metadata{
		Role:      role.String(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}
	ident, err := providerCall(ctx, s.cfg.ProviderTimeout, func(ctx context.Context) (*identity.Identity, error) {
		return s.provider.SignUp(ctx, email, req.Password, meta)
	})
	if err != nil {
		return nil, err
	}

	outcome, profile, err := s.poller.WaitForSync(ctx, ident, s.cfg.SyncBudget, s.cfg.PollInterval)
	if err != nil {
		return nil, err
	}

	s.audit.LogRegistered(ctx, profile, string(outcome))
	return &RegisterResult{Profile: profile, Sync: outcome}, nil
}

// Logout revokes the caller's session with the provider.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	return providerDo(ctx, s.cfg.ProviderTimeout, func(ctx context.Context) error {
		return s.provider.SignOut(ctx, &identity.Session{AccessToken: accessToken})
	})
}

// GetAccount returns the caller's profile and role extension.
func (s *Service) GetAccount(ctx context.Context, ident *identity.Identity) (*AccountView, error) {
	profile, ext, err := s.reconciler.sync(ctx, ident, true)
	if err != nil {
		return nil, err
	}
	return &AccountView{Profile: profile, Extension: ext}, nil
}

// UpdateAccount applies patch to the caller's own profile and extension.
func (s *Service) UpdateAccount(ctx context.Context, ident *identity.Identity, patch account.ProfilePatch) (*AccountView, error) {
	view, err := s.GetAccount(ctx, ident)
	if err != nil {
		return nil, err
	}

	if err := patch.Apply(view.Profile, view.Extension, s.clock.Now()); err != nil {
		return nil, err
	}

	if err := s.reconciler.call(ctx, func(ctx context.Context) error {
		return s.store.UpdateProfile(ctx, view.Profile)
	}); err != nil {
		return nil, err
	}
	if err := s.reconciler.call(ctx, func(ctx context.Context) error {
		return s.store.UpdateExtension(ctx, view.Extension)
	}); err != nil {
		return nil, err
	}

	return view, nil
}

// providerCall bounds a provider call and reports a blown deadline as
// ErrProviderUnavailable.
func providerCall[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := asyncx.WithTimeout(ctx, d, fn)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		var e *errx.Error
		if !errors.As(err, &e) {
			return v, identity.ErrProviderUnavailable(err)
		}
	}
	return v, err
}

func providerDo(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := providerCall(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
