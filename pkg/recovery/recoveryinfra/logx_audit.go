package recoveryinfra

import (
	"context"

	"github.com/Abraxas-365/homestead/pkg/logx"
	"github.com/Abraxas-365/homestead/pkg/recovery"
)

// LogxAuditLogger implements recovery.AuditLogger using structured logx logging.
type LogxAuditLogger struct{}

func NewLogxAuditLogger() *LogxAuditLogger {
	return &LogxAuditLogger{}
}

func (LogxAuditLogger) LogRequested(ctx context.Context, email string, delivery recovery.DeliveryStatus) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "recovery_requested",
		"email":       email,
		"delivery":    delivery,
	}).Info("Audit: recovery requested")
}

func (LogxAuditLogger) LogCodeVerified(ctx context.Context, email string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "recovery_code_verified",
		"email":       email,
	}).Info("Audit: recovery code verified")
}

func (LogxAuditLogger) LogCodeRejected(ctx context.Context, email string, reason recovery.Reason, remaining int) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event":        "recovery_code_rejected",
		"email":              email,
		"reason":             reason,
		"remaining_attempts": remaining,
	}).Warn("Audit: recovery code rejected")
}

func (LogxAuditLogger) LogCompleted(ctx context.Context, email string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "recovery_completed",
		"email":       email,
	}).Info("Audit: password reset completed")
}
