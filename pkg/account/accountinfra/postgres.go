package accountinfra

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// PostgresProfileStore implements account.ProfileStore over the profiles and
// *_profiles tables. Uniqueness is enforced by the schema; violations come back
// as account.ErrConflict.
type PostgresProfileStore struct {
	db *sqlx.DB
}

var _ account.ProfileStore = (*PostgresProfileStore)(nil)

func NewPostgresProfileStore(db *sqlx.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// Ping checks connectivity for health checks.
func (s *PostgresProfileStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err, "ping")
	}
	return nil
}

// ============================================================================
// Profiles
// ============================================================================

const profileColumns = `id, email, role, first_name, last_name, phone, password_marker, created_at, updated_at`

func (s *PostgresProfileStore) GetProfileByEmail(ctx context.Context, email string) (*account.Profile, error) {
	var p account.Profile
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email = $1`
	if err := s.db.GetContext(ctx, &p, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrProfileNotFound().WithDetail("email", email)
		}
		return nil, classify(err, "get profile by email")
	}
	return &p, nil
}

func (s *PostgresProfileStore) GetProfileByID(ctx context.Context, id kernel.IdentityID) (*account.Profile, error) {
	var p account.Profile
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	if err := s.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrProfileNotFound().WithDetail("id", id)
		}
		return nil, classify(err, "get profile by id")
	}
	return &p, nil
}

func (s *PostgresProfileStore) InsertProfile(ctx context.Context, p *account.Profile) error {
	query := `
		INSERT INTO profiles (
			id, email, role, first_name, last_name, phone, password_marker, created_at, updated_at
		) VALUES (
			:id, :email, :role, :first_name, :last_name, :phone, :password_marker, :created_at, :updated_at
		)`
	if _, err := s.db.NamedExecContext(ctx, query, p); err != nil {
		return classify(err, "insert profile")
	}
	return nil
}

// UpdateProfileId moves the profile owning email to newID. Extension rows
// follow through ON UPDATE CASCADE.
func (s *PostgresProfileStore) UpdateProfileId(ctx context.Context, email string, newID kernel.IdentityID) error {
	query := `UPDATE profiles SET id = $1, updated_at = $2 WHERE email = $3`
	result, err := s.db.ExecContext(ctx, query, newID, time.Now().UTC(), email)
	if err != nil {
		return classify(err, "update profile id")
	}
	return expectRow(result, account.ErrProfileNotFound().WithDetail("email", email))
}

func (s *PostgresProfileStore) UpdateProfile(ctx context.Context, p *account.Profile) error {
	query := `
		UPDATE profiles SET
			first_name = :first_name,
			last_name = :last_name,
			phone = :phone,
			updated_at = :updated_at
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return classify(err, "update profile")
	}
	return expectRow(result, account.ErrProfileNotFound().WithDetail("id", p.ID))
}

// ============================================================================
// Extensions
// ============================================================================

type extensionRow struct {
	Role              account.Role   `db:"role"`
	CustomerID        sql.NullString `db:"customer_id"`
	FullName          sql.NullString `db:"full_name"`
	AgentID           sql.NullString `db:"agent_id"`
	CompanyName       sql.NullString `db:"company_name"`
	LicenseInfo       sql.NullString `db:"license_info"`
	ServiceAreas      pq.StringArray `db:"service_areas"`
	AdminID           sql.NullString `db:"admin_id"`
	Username          sql.NullString `db:"username"`
	AdminSecretMarker sql.NullString `db:"admin_secret_marker"`
	CreatedAt         pq.NullTime    `db:"ext_created_at"`
	UpdatedAt         pq.NullTime    `db:"ext_updated_at"`
}

func (s *PostgresProfileStore) GetExtension(ctx context.Context, profileID kernel.IdentityID) (*account.Extension, error) {
	query := `
		SELECT p.role,
			c.profile_id AS customer_id, c.full_name,
			a.profile_id AS agent_id, a.company_name, a.license_info, a.service_areas,
			d.profile_id AS admin_id, d.username, d.admin_secret_marker,
			COALESCE(c.created_at, a.created_at, d.created_at) AS ext_created_at,
			COALESCE(c.updated_at, a.updated_at, d.updated_at) AS ext_updated_at
		FROM profiles p
		LEFT JOIN customer_profiles c ON c.profile_id = p.id
		LEFT JOIN agent_profiles a ON a.profile_id = p.id
		LEFT JOIN admin_profiles d ON d.profile_id = p.id
		WHERE p.id = $1`

	var row extensionRow
	if err := s.db.GetContext(ctx, &row, query, profileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrExtensionNotFound().WithDetail("profile_id", profileID)
		}
		return nil, classify(err, "get extension")
	}

	ext := &account.Extension{
		ProfileID: profileID,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
	switch {
	case row.CustomerID.Valid:
		ext.Role = account.RoleCustomer
		ext.Customer = &account.CustomerExtension{FullName: row.FullName.String}
	case row.AgentID.Valid:
		areas := []string(row.ServiceAreas)
		if areas == nil {
			areas = []string{}
		}
		ext.Role = account.RoleAgent
		ext.Agent = &account.AgentExtension{
			CompanyName:  row.CompanyName.String,
			LicenseInfo:  row.LicenseInfo.String,
			ServiceAreas: areas,
		}
	case row.AdminID.Valid:
		ext.Role = account.RoleAdmin
		ext.Admin = &account.AdminExtension{
			Username:          row.Username.String,
			AdminSecretMarker: row.AdminSecretMarker.String,
		}
	default:
		return nil, account.ErrExtensionNotFound().WithDetail("profile_id", profileID)
	}
	return ext, nil
}

func (s *PostgresProfileStore) InsertExtension(ctx context.Context, ext *account.Extension) error {
	var err error
	switch {
	case ext.Role == account.RoleCustomer && ext.Customer != nil:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO customer_profiles (profile_id, role, full_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			ext.ProfileID, ext.Role, ext.Customer.FullName, ext.CreatedAt, ext.UpdatedAt)
	case ext.Role == account.RoleAgent && ext.Agent != nil:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO agent_profiles (profile_id, role, company_name, license_info, service_areas, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ext.ProfileID, ext.Role, ext.Agent.CompanyName, ext.Agent.LicenseInfo, pq.Array(ext.Agent.ServiceAreas), ext.CreatedAt, ext.UpdatedAt)
	case ext.Role == account.RoleAdmin && ext.Admin != nil:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO admin_profiles (profile_id, role, username, admin_secret_marker, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ext.ProfileID, ext.Role, ext.Admin.Username, ext.Admin.AdminSecretMarker, ext.CreatedAt, ext.UpdatedAt)
	default:
		return account.ErrInvalidProfile().WithDetail("reason", "extension variant does not match its role")
	}
	if err != nil {
		return classify(err, "insert extension")
	}
	return nil
}

func (s *PostgresProfileStore) UpdateExtension(ctx context.Context, ext *account.Extension) error {
	var (
		result sql.Result
		err    error
	)
	switch {
	case ext.Role == account.RoleCustomer && ext.Customer != nil:
		result, err = s.db.ExecContext(ctx,
			`UPDATE customer_profiles SET full_name = $1, updated_at = $2 WHERE profile_id = $3`,
			ext.Customer.FullName, ext.UpdatedAt, ext.ProfileID)
	case ext.Role == account.RoleAgent && ext.Agent != nil:
		result, err = s.db.ExecContext(ctx,
			`UPDATE agent_profiles SET company_name = $1, license_info = $2, service_areas = $3, updated_at = $4 WHERE profile_id = $5`,
			ext.Agent.CompanyName, ext.Agent.LicenseInfo, pq.Array(ext.Agent.ServiceAreas), ext.UpdatedAt, ext.ProfileID)
	case ext.Role == account.RoleAdmin && ext.Admin != nil:
		result, err = s.db.ExecContext(ctx,
			`UPDATE admin_profiles SET username = $1, updated_at = $2 WHERE profile_id = $3`,
			ext.Admin.Username, ext.UpdatedAt, ext.ProfileID)
	default:
		return account.ErrInvalidProfile().WithDetail("reason", "extension variant does not match its role")
	}
	if err != nil {
		return classify(err, "update extension")
	}
	return expectRow(result, account.ErrExtensionNotFound().WithDetail("profile_id", ext.ProfileID))
}

// ============================================================================
// Error mapping
// ============================================================================

func expectRow(result sql.Result, notFound *errx.Error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// classify turns driver errors into the store's error taxonomy.
func classify(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505": // unique_violation
			return account.ErrConflict().
				WithDetail("constraint", pqErr.Constraint).
				WithCause(err)
		case pqErr.Code == "23503": // foreign_key_violation
			return account.ErrProfileNotFound().
				WithDetail("constraint", pqErr.Constraint).
				WithCause(err)
		}
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57": // connection, rollback, resources, operator intervention
			return account.ErrStoreUnavailable(err).WithDetail("op", op)
		}
		return errx.Wrap(err, "profile store: "+op, errx.TypeInternal).
			WithDetail("pg_code", string(pqErr.Code))
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) {
		return account.ErrStoreUnavailable(err).WithDetail("op", op)
	}

	return errx.Wrap(err, "profile store: "+op, errx.TypeInternal)
}
