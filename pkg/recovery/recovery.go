package recovery

import (
	"time"
)

// State is the position of a reset session in the recovery flow.
// Expired and AttemptsExceeded are absorbing: only a new request leaves them.
type State string

const (
	StateRequested        State = "requested"
	StateCodeIssued       State = "code_issued"
	StateVerified         State = "verified"
	StateCompleted        State = "completed"
	StateExpired          State = "expired"
	StateAttemptsExceeded State = "attempts_exceeded"
)

// IsTerminal reports whether no further transition is possible without a new request.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateExpired, StateAttemptsExceeded:
		return true
	}
	return false
}

// Session is the single password-reset record kept per email. A new request
// overwrites it, which invalidates any earlier code or token.
type Session struct {
	Email        string    `json:"email"`
	CodeHash     string    `json:"code_hash"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	State        State     `json:"state"`
	Consumed     bool      `json:"consumed"`

	ResetTokenHash      string    `json:"reset_token_hash,omitempty"`
	ResetTokenExpiresAt time.Time `json:"reset_token_expires_at,omitempty"`
	VerifiedAt          time.Time `json:"verified_at,omitempty"`

	// Version is maintained by the store and increases on every write.
	Version int64 `json:"version"`
}

// IsExpired reports whether the code can no longer be verified at now.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RemainingAttempts is how many wrong codes are still tolerated.
func (s *Session) RemainingAttempts() int {
	if r := s.MaxAttempts - s.AttemptCount; r > 0 {
		return r
	}
	return 0
}

// RetainUntil is when the store may forget the record. It outlives the code so
// a late verification still reports Expired rather than NotFound.
func (s *Session) RetainUntil(grace time.Duration) time.Time {
	until := s.ExpiresAt
	if s.ResetTokenExpiresAt.After(until) {
		until = s.ResetTokenExpiresAt
	}
	return until.Add(grace)
}

// Clone returns a copy safe to mutate into the next state.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// DeliveryStatus reports what happened to the notification of a new code.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
	// DeliverySkipped means no identity owns the email. Callers render it
	// exactly like DeliverySent.
	DeliverySkipped DeliveryStatus = "skipped"
)

// RequestResult is returned by a reset request. It never carries the code.
type RequestResult struct {
	Delivery  DeliveryStatus `json:"delivery"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// VerifyResult carries the single-use reset token issued on a matching code.
type VerifyResult struct {
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}
