package recovery

import (
	"errors"
	"net/http"

	"github.com/Abraxas-365/homestead/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("RECOVERY")

// Expired shares InvalidCode's message so responses do not reveal session lifetime.
const invalidCodeMessage = "Invalid or expired code"

var (
	CodeSessionNotFound         = ErrRegistry.Register("SESSION_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "No active recovery session")
	CodeExpired                 = ErrRegistry.Register("EXPIRED", errx.TypeValidation, http.StatusBadRequest, invalidCodeMessage)
	CodeInvalidCode             = ErrRegistry.Register("INVALID_CODE", errx.TypeValidation, http.StatusBadRequest, invalidCodeMessage)
	CodeAttemptsExceeded        = ErrRegistry.Register("ATTEMPTS_EXCEEDED", errx.TypeBusiness, http.StatusBadRequest, "Too many attempts, request a new code")
	CodeInvalidToken            = ErrRegistry.Register("INVALID_TOKEN", errx.TypeValidation, http.StatusBadRequest, "Invalid or already used reset token")
	CodePasswordPolicyViolation = ErrRegistry.Register("PASSWORD_POLICY_VIOLATION", errx.TypeValidation, http.StatusBadRequest, "Password does not meet the policy")
	CodeInvalidEmail            = ErrRegistry.Register("INVALID_EMAIL", errx.TypeValidation, http.StatusBadRequest, "Invalid email address")
	CodeTooManyRequests         = ErrRegistry.Register("TOO_MANY_REQUESTS", errx.TypeBusiness, http.StatusTooManyRequests, "Too many code requests, try again later")
	CodeVersionConflict         = ErrRegistry.Register("VERSION_CONFLICT", errx.TypeConflict, http.StatusConflict, "Session changed concurrently")
	CodeStoreUnavailable        = ErrRegistry.Register("STORE_UNAVAILABLE", errx.TypeUnavailable, http.StatusServiceUnavailable, "Code store temporarily unavailable")
	CodeCodeGenerationFailed    = ErrRegistry.Register("CODE_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Could not issue a code")
)

func ErrSessionNotFound() *errx.Error  { return ErrRegistry.New(CodeSessionNotFound) }
func ErrExpired() *errx.Error          { return ErrRegistry.New(CodeExpired) }
func ErrInvalidCode() *errx.Error      { return ErrRegistry.New(CodeInvalidCode) }
func ErrAttemptsExceeded() *errx.Error { return ErrRegistry.New(CodeAttemptsExceeded) }
func ErrInvalidToken() *errx.Error     { return ErrRegistry.New(CodeInvalidToken) }
func ErrInvalidEmail() *errx.Error     { return ErrRegistry.New(CodeInvalidEmail) }
func ErrTooManyRequests() *errx.Error  { return ErrRegistry.New(CodeTooManyRequests) }
func ErrVersionConflict() *errx.Error  { return ErrRegistry.New(CodeVersionConflict) }

// ErrPasswordPolicyViolation lists the unmet rules in details.
func ErrPasswordPolicyViolation(unmet []string) *errx.Error {
	return ErrRegistry.New(CodePasswordPolicyViolation).WithDetail("unmet_rules", unmet)
}

// ErrStoreUnavailable is the TransientStoreError: retryable by the caller.
func ErrStoreUnavailable(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeStoreUnavailable, cause)
}

func ErrCodeGenerationFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeCodeGenerationFailed, cause)
}

// ============================================================================
// Reasons
// ============================================================================

// Reason is the outward classification of a failed recovery step.
type Reason string

const (
	ReasonInvalidCode             Reason = "InvalidCode"
	ReasonExpired                 Reason = "Expired"
	ReasonAttemptsExceeded        Reason = "AttemptsExceeded"
	ReasonInvalidToken            Reason = "InvalidToken"
	ReasonPasswordPolicyViolation Reason = "PasswordPolicyViolation"
)

// ReasonOf maps a state-machine error to its reason. A missing session is
// reported as InvalidCode so callers cannot learn which emails have one.
func ReasonOf(err error) (Reason, bool) {
	var e *errx.Error
	if !errors.As(err, &e) {
		return "", false
	}
	switch e.Code {
	case CodeInvalidCode.Code, CodeSessionNotFound.Code:
		return ReasonInvalidCode, true
	case CodeExpired.Code:
		return ReasonExpired, true
	case CodeAttemptsExceeded.Code:
		return ReasonAttemptsExceeded, true
	case CodeInvalidToken.Code:
		return ReasonInvalidToken, true
	case CodePasswordPolicyViolation.Code:
		return ReasonPasswordPolicyViolation, true
	}
	return "", false
}
