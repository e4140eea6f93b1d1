package accountinfra

import (
	"context"

	"github.com/Abraxas-365/homestead/pkg/account"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/logx"
)

// LogxAuditLogger implements account.AuditLogger using structured logx logging.
type LogxAuditLogger struct{}

func NewLogxAuditLogger() *LogxAuditLogger {
	return &LogxAuditLogger{}
}

func (LogxAuditLogger) LogProfileCreated(ctx context.Context, p *account.Profile) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "profile_created",
		"profile_id":  p.ID,
		"email":       p.Email,
		"role":        p.Role,
	}).Info("Audit: profile created")
}

func (LogxAuditLogger) LogProfileIDRepaired(ctx context.Context, email string, from, to kernel.IdentityID) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "profile_id_repaired",
		"email":       email,
		"from_id":     from,
		"to_id":       to,
	}).Warn("Audit: profile id repaired")
}

func (LogxAuditLogger) LogExtensionHealed(ctx context.Context, profileID kernel.IdentityID, role account.Role) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "extension_healed",
		"profile_id":  profileID,
		"role":        role,
	}).Info("Audit: role extension created")
}

func (LogxAuditLogger) LogLogin(ctx context.Context, email string, success bool) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "login_attempt",
		"email":       email,
		"success":     success,
	}).Info("Audit: login attempt")
}

func (LogxAuditLogger) LogRegistered(ctx context.Context, p *account.Profile, outcome string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event":  "account_registered",
		"profile_id":   p.ID,
		"role":         p.Role,
		"sync_outcome": outcome,
	}).Info("Audit: account registered")
}
