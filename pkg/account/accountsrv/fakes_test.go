package accountsrv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/account/accountinfra"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// memStore wraps the in-memory store with hooks for timing and failure tests.
type memStore struct {
	*accountinfra.MemoryProfileStore

	// getDelay widens the window between a lookup and the following insert.
	getDelay time.Duration
	// mirrorAfter makes GetProfileByID miss until it has been called this many times.
	mirrorAfter int
	failWith    error

	mu        sync.Mutex
	byIDCalls int
	extCalls  int
}

func newMemStore() *memStore {
	return &memStore{MemoryProfileStore: accountinfra.NewMemoryProfileStore()}
}

func (m *memStore) GetProfileByEmail(ctx context.Context, email string) (*account.Profile, error) {
	if m.getDelay > 0 {
		time.Sleep(m.getDelay)
	}
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.MemoryProfileStore.GetProfileByEmail(ctx, email)
}

func (m *memStore) GetProfileByID(ctx context.Context, id kernel.IdentityID) (*account.Profile, error) {
	m.mu.Lock()
	m.byIDCalls++
	calls := m.byIDCalls
	m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}
	if calls <= m.mirrorAfter {
		return nil, account.ErrProfileNotFound()
	}
	return m.MemoryProfileStore.GetProfileByID(ctx, id)
}

func (m *memStore) GetExtension(ctx context.Context, id kernel.IdentityID) (*account.Extension, error) {
	m.mu.Lock()
	m.extCalls++
	m.mu.Unlock()
	if m.getDelay > 0 {
		time.Sleep(m.getDelay)
	}
	return m.MemoryProfileStore.GetExtension(ctx, id)
}

func (m *memStore) counts() (profiles, extensions int) {
	return m.Counts()
}

// nopAudit discards audit events.
type nopAudit struct{}

func (nopAudit) LogProfileCreated(context.Context, *account.Profile)                                {}
func (nopAudit) LogProfileIDRepaired(context.Context, string, kernel.IdentityID, kernel.IdentityID) {}
func (nopAudit) LogExtensionHealed(context.Context, kernel.IdentityID, account.Role)                {}
func (nopAudit) LogLogin(context.Context, string, bool)                                             {}
func (nopAudit) LogRegistered(context.Context, *account.Profile, string)                            {}

// fakeProvider is an identity provider holding identities in memory.
type fakeProvider struct {
	mu         sync.Mutex
	identities map[string]*identity.Identity
	passwords  map[string]string
	nextID     int
	delay      time.Duration
	// placeholders makes SignUp of a taken email answer with a throwaway
	// identity instead of ErrAlreadyRegistered.
	placeholders bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		identities: map[string]*identity.Identity{},
		passwords:  map[string]string{},
	}
}

func (f *fakeProvider) SignIn(ctx context.Context, email, password string) (*identity.Identity, *identity.Session, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[email]
	if !ok || f.passwords[email] != password {
		return nil, nil, identity.ErrInvalidCredentials()
	}
	return ident, &identity.Session{AccessToken: "token-" + ident.ID.String()}, nil
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password string, meta identity.Metadata) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if _, ok := f.identities[email]; ok {
		if f.placeholders {
			return &identity.Identity{
				ID:       kernel.IdentityID(fmt.Sprintf("placeholder-%d", f.nextID)),
				Email:    email,
				Metadata: meta,
			}, nil
		}
		return nil, identity.ErrAlreadyRegistered()
	}
	ident := &identity.Identity{
		ID:       kernel.IdentityID(fmt.Sprintf("id-%d", f.nextID)),
		Email:    email,
		Metadata: meta,
	}
	f.identities[email] = ident
	f.passwords[email] = password
	return ident, nil
}

func (f *fakeProvider) LookupIdentity(ctx context.Context, email string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[email]
	if !ok {
		return nil, identity.ErrIdentityNotFound()
	}
	return ident, nil
}

func (f *fakeProvider) UpdateCredential(ctx context.Context, id kernel.IdentityID, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, ident := range f.identities {
		if ident.ID == id {
			f.passwords[email] = newPassword
			return nil
		}
	}
	return identity.ErrIdentityNotFound()
}

func (f *fakeProvider) SignOut(ctx context.Context, session *identity.Session) error {
	if session == nil {
		return errors.New("nil session")
	}
	return nil
}
