package account

import (
	"strings"
	"time"

	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/ptrx"
)

// ============================================================================
// Roles
// ============================================================================

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleAgent:
		return RoleAgent, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// RoleFromMetadata derives the role hint stored on the identity. Missing or
// unknown values fall back to RoleCustomer.
func RoleFromMetadata(meta identity.Metadata) Role {
	if r, ok := ParseRole(meta.Role); ok {
		return r
	}
	return RoleCustomer
}

func (r Role) String() string { return string(r) }

// PasswordMarkerExternal is stored in place of a password: the secret itself
// lives with the identity provider.
const PasswordMarkerExternal = "identity_provider"

// ============================================================================
// Profile
// ============================================================================

// Profile is the application's own record of a user. Its ID always equals the
// ID of the identity currently owning Email.
type Profile struct {
	ID             kernel.IdentityID `db:"id" json:"id"`
	Email          string            `db:"email" json:"email"`
	Role           Role              `db:"role" json:"role"`
	FirstName      string            `db:"first_name" json:"first_name"`
	LastName       string            `db:"last_name" json:"last_name"`
	Phone          string            `db:"phone" json:"phone"`
	PasswordMarker string            `db:"password_marker" json:"-"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// NewProfileFromIdentity builds the profile created on first sight of ident.
// The role is read from metadata here and never again.
func NewProfileFromIdentity(ident *identity.Identity, now time.Time) *Profile {
	return &Profile{
		ID:             ident.ID,
		Email:          ident.NormalizedEmail(),
		Role:           RoleFromMetadata(ident.Metadata),
		FirstName:      strings.TrimSpace(ident.Metadata.FirstName),
		LastName:       strings.TrimSpace(ident.Metadata.LastName),
		Phone:          strings.TrimSpace(ident.Metadata.Phone),
		PasswordMarker: PasswordMarkerExternal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (p *Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ============================================================================
// Role extensions
// ============================================================================

type CustomerExtension struct {
	FullName string `json:"full_name"`
}

type AgentExtension struct {
	CompanyName  string   `json:"company_name"`
	LicenseInfo  string   `json:"license_info"`
	ServiceAreas []string `json:"service_areas"`
}

type AdminExtension struct {
	Username          string `json:"username"`
	AdminSecretMarker string `json:"-"`
}

// Extension is the role-specific record of a profile. Role tags which of the
// variant pointers is set; exactly one is non-nil.
type Extension struct {
	ProfileID kernel.IdentityID  `json:"profile_id"`
	Role      Role               `json:"role"`
	Customer  *CustomerExtension `json:"customer,omitempty"`
	Agent     *AgentExtension    `json:"agent,omitempty"`
	Admin     *AdminExtension    `json:"admin,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewExtensionFor returns the default extension matching p.Role.
func NewExtensionFor(p *Profile, now time.Time) *Extension {
	ext := &Extension{
		ProfileID: p.ID,
		Role:      p.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch p.Role {
	case RoleAgent:
		ext.Agent = &AgentExtension{ServiceAreas: []string{}}
	case RoleAdmin:
		username, _, _ := strings.Cut(p.Email, "@")
		ext.Admin = &AdminExtension{Username: username, AdminSecretMarker: PasswordMarkerExternal}
	default:
		ext.Role = RoleCustomer
		ext.Customer = &CustomerExtension{FullName: p.FullName()}
	}
	return ext
}

// Matches reports whether the extension is a well-formed variant for role.
func (e *Extension) Matches(role Role) bool {
	if e == nil || e.Role != role {
		return false
	}
	switch role {
	case RoleCustomer:
		return e.Customer != nil && e.Agent == nil && e.Admin == nil
	case RoleAgent:
		return e.Agent != nil && e.Customer == nil && e.Admin == nil
	case RoleAdmin:
		return e.Admin != nil && e.Customer == nil && e.Agent == nil
	}
	return false
}

// ============================================================================
// Updates
// ============================================================================

// ProfilePatch carries the caller-editable fields. Nil means unchanged.
// Role and email are not editable.
type ProfilePatch struct {
	FirstName    *string   `json:"first_name,omitempty"`
	LastName     *string   `json:"last_name,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	FullName     *string   `json:"full_name,omitempty"`
	CompanyName  *string   `json:"company_name,omitempty"`
	LicenseInfo  *string   `json:"license_info,omitempty"`
	ServiceAreas *[]string `json:"service_areas,omitempty"`
	Username     *string   `json:"username,omitempty"`
}

// Apply mutates p and ext in place. It returns an error when the patch names
// fields that belong to a different role variant.
func (patch ProfilePatch) Apply(p *Profile, ext *Extension, now time.Time) error {
	p.FirstName = strings.TrimSpace(ptrx.Or(patch.FirstName, p.FirstName))
	p.LastName = strings.TrimSpace(ptrx.Or(patch.LastName, p.LastName))
	p.Phone = strings.TrimSpace(ptrx.Or(patch.Phone, p.Phone))
	p.UpdatedAt = now

	customerFields := patch.FullName != nil
	agentFields := patch.CompanyName != nil || patch.LicenseInfo != nil || patch.ServiceAreas != nil
	adminFields := patch.Username != nil

	switch ext.Role {
	case RoleCustomer:
		if agentFields || adminFields {
			return ErrFieldNotEditable().WithDetail("role", ext.Role)
		}
		if patch.FullName != nil {
			ext.Customer.FullName = strings.TrimSpace(*patch.FullName)
		}
	case RoleAgent:
		if customerFields || adminFields {
			return ErrFieldNotEditable().WithDetail("role", ext.Role)
		}
		if patch.CompanyName != nil {
			ext.Agent.CompanyName = strings.TrimSpace(*patch.CompanyName)
		}
		if patch.LicenseInfo != nil {
			ext.Agent.LicenseInfo = strings.TrimSpace(*patch.LicenseInfo)
		}
		if patch.ServiceAreas != nil {
			ext.Agent.ServiceAreas = append([]string{}, (*patch.ServiceAreas)...)
		}
	case RoleAdmin:
		if customerFields || agentFields {
			return ErrFieldNotEditable().WithDetail("role", ext.Role)
		}
		if patch.Username != nil {
			u := strings.TrimSpace(*patch.Username)
			if u == "" {
				return ErrInvalidProfile().WithDetail("field", "username")
			}
			ext.Admin.Username = u
		}
	}
	ext.UpdatedAt = now
	return nil
}
