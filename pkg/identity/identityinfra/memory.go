package identityinfra

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// MemoryProvider is a process-local identity provider for development and
// tests. Sessions are real access tokens signed by the given verifier, so the
// token middleware accepts them.
type MemoryProvider struct {
	mu         sync.Mutex
	identities map[string]*identity.Identity // keyed by normalized email
	passwords  map[kernel.IdentityID]string
	signer     *JWTVerifier
	sessionTTL time.Duration
}

var _ identity.Provider = (*MemoryProvider)(nil)

func NewMemoryProvider(signer *JWTVerifier, sessionTTL time.Duration) *MemoryProvider {
	if sessionTTL <= 0 {
		sessionTTL = time.Hour
	}
	return &MemoryProvider{
		identities: map[string]*identity.Identity{},
		passwords:  map[kernel.IdentityID]string{},
		signer:     signer,
		sessionTTL: sessionTTL,
	}
}

func (m *MemoryProvider) SignIn(ctx context.Context, email, password string) (*identity.Identity, *identity.Session, error) {
	m.mu.Lock()
	ident, ok := m.identities[identity.NormalizeEmail(email)]
	valid := ok && m.passwords[ident.ID] == password
	m.mu.Unlock()

	if !valid {
		return nil, nil, identity.ErrInvalidCredentials()
	}

	token, err := m.signer.Sign(ident, m.sessionTTL)
	if err != nil {
		return nil, nil, identity.ErrProviderRejected(err)
	}

	copied := *ident
	return &copied, &identity.Session{
		AccessToken:  token,
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().UTC().Add(m.sessionTTL),
	}, nil
}

func (m *MemoryProvider) SignUp(ctx context.Context, email, password string, meta identity.Metadata) (*identity.Identity, error) {
	key := identity.NormalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[key]; ok {
		return nil, identity.ErrAlreadyRegistered()
	}

	ident := &identity.Identity{
		ID:        kernel.NewIdentityID(uuid.NewString()),
		Email:     key,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	m.identities[key] = ident
	m.passwords[ident.ID] = password

	copied := *ident
	return &copied, nil
}

func (m *MemoryProvider) LookupIdentity(ctx context.Context, email string) (*identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[identity.NormalizeEmail(email)]
	if !ok {
		return nil, identity.ErrIdentityNotFound()
	}
	copied := *ident
	return &copied, nil
}

func (m *MemoryProvider) UpdateCredential(ctx context.Context, id kernel.IdentityID, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passwords[id]; !ok {
		return identity.ErrIdentityNotFound()
	}
	m.passwords[id] = newPassword
	return nil
}

// SignOut is a no-op: issued tokens stay valid until they expire.
func (m *MemoryProvider) SignOut(ctx context.Context, session *identity.Session) error {
	return nil
}

// Recreate replaces the identity for email with a fresh id, keeping its
// password and metadata. It simulates an identity deleted and re-created
// upstream.
func (m *MemoryProvider) Recreate(email string) (*identity.Identity, error) {
	key := identity.NormalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.identities[key]
	if !ok {
		return nil, identity.ErrIdentityNotFound()
	}
	fresh := *old
	fresh.ID = kernel.NewIdentityID(uuid.NewString())
	m.passwords[fresh.ID] = m.passwords[old.ID]
	delete(m.passwords, old.ID)
	m.identities[key] = &fresh

	copied := fresh
	return &copied, nil
}
