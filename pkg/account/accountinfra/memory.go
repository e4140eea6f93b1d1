package accountinfra

import (
	"context"
	"sync"
	"time"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// MemoryProfileStore is a process-local ProfileStore for development and
// tests. It enforces the same uniqueness rules as the Postgres schema.
type MemoryProfileStore struct {
	mu         sync.Mutex
	profiles   map[string]account.Profile // keyed by email
	extensions map[kernel.IdentityID]account.Extension
}

var _ account.ProfileStore = (*MemoryProfileStore)(nil)

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles:   map[string]account.Profile{},
		extensions: map[kernel.IdentityID]account.Extension{},
	}
}

func (m *MemoryProfileStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryProfileStore) GetProfileByEmail(ctx context.Context, email string) (*account.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[email]
	if !ok {
		return nil, account.ErrProfileNotFound().WithDetail("email", email)
	}
	return &p, nil
}

func (m *MemoryProfileStore) GetProfileByID(ctx context.Context, id kernel.IdentityID) (*account.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, account.ErrProfileNotFound().WithDetail("id", id)
}

func (m *MemoryProfileStore) InsertProfile(ctx context.Context, p *account.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.Email]; ok {
		return account.ErrConflict().WithDetail("constraint", "profiles_email_key")
	}
	for _, existing := range m.profiles {
		if existing.ID == p.ID {
			return account.ErrConflict().WithDetail("constraint", "profiles_pkey")
		}
	}
	m.profiles[p.Email] = *p
	return nil
}

func (m *MemoryProfileStore) UpdateProfileId(ctx context.Context, email string, newID kernel.IdentityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[email]
	if !ok {
		return account.ErrProfileNotFound().WithDetail("email", email)
	}
	for _, existing := range m.profiles {
		if existing.ID == newID && existing.Email != email {
			return account.ErrConflict().WithDetail("constraint", "profiles_pkey")
		}
	}
	if ext, ok := m.extensions[p.ID]; ok {
		delete(m.extensions, p.ID)
		ext.ProfileID = newID
		m.extensions[newID] = ext
	}
	p.ID = newID
	p.UpdatedAt = time.Now().UTC()
	m.profiles[email] = p
	return nil
}

func (m *MemoryProfileStore) UpdateProfile(ctx context.Context, p *account.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[p.Email]
	if !ok || existing.ID != p.ID {
		return account.ErrProfileNotFound().WithDetail("id", p.ID)
	}
	existing.FirstName = p.FirstName
	existing.LastName = p.LastName
	existing.Phone = p.Phone
	existing.UpdatedAt = p.UpdatedAt
	m.profiles[p.Email] = existing
	return nil
}

func (m *MemoryProfileStore) GetExtension(ctx context.Context, profileID kernel.IdentityID) (*account.Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extensions[profileID]
	if !ok {
		return nil, account.ErrExtensionNotFound().WithDetail("profile_id", profileID)
	}
	return cloneExtension(ext), nil
}

func (m *MemoryProfileStore) InsertExtension(ctx context.Context, ext *account.Extension) error {
	if !ext.Matches(ext.Role) {
		return account.ErrInvalidProfile().WithDetail("reason", "extension variant does not match its role")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.extensions[ext.ProfileID]; ok {
		return account.ErrConflict().WithDetail("constraint", "extension_profile_id_key")
	}
	owner := false
	for _, p := range m.profiles {
		if p.ID == ext.ProfileID && p.Role == ext.Role {
			owner = true
			break
		}
	}
	if !owner {
		return account.ErrProfileNotFound().WithDetail("constraint", "extension_profile_fkey")
	}
	m.extensions[ext.ProfileID] = *cloneExtension(*ext)
	return nil
}

func (m *MemoryProfileStore) UpdateExtension(ctx context.Context, ext *account.Extension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.extensions[ext.ProfileID]
	if !ok || existing.Role != ext.Role {
		return account.ErrExtensionNotFound().WithDetail("profile_id", ext.ProfileID)
	}
	m.extensions[ext.ProfileID] = *cloneExtension(*ext)
	return nil
}

// Counts returns the number of stored profiles and extensions.
func (m *MemoryProfileStore) Counts() (profiles, extensions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles), len(m.extensions)
}

func cloneExtension(ext account.Extension) *account.Extension {
	out := ext
	if ext.Customer != nil {
		c := *ext.Customer
		out.Customer = &c
	}
	if ext.Agent != nil {
		a := *ext.Agent
		a.ServiceAreas = append([]string{}, ext.Agent.ServiceAreas...)
		out.Agent = &a
	}
	if ext.Admin != nil {
		a := *ext.Admin
		out.Admin = &a
	}
	return &out
}
