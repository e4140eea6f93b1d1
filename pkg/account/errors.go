package account

import (
	"net/http"

	"github.com/Abraxas-365/homestead/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("ACCOUNT")

var (
	CodeProfileNotFound   = ErrRegistry.Register("PROFILE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Profile not found")
	CodeExtensionNotFound = ErrRegistry.Register("EXTENSION_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Role extension not found")
	CodeConflict          = ErrRegistry.Register("CONFLICT", errx.TypeConflict, http.StatusConflict, "Record already exists")
	CodeStoreUnavailable  = ErrRegistry.Register("STORE_UNAVAILABLE", errx.TypeUnavailable, http.StatusServiceUnavailable, "Profile store temporarily unavailable")
	CodeMalformedIdentity = ErrRegistry.Register("MALFORMED_IDENTITY", errx.TypeValidation, http.StatusBadRequest, "Identity is missing required fields")
	CodeInvalidProfile    = ErrRegistry.Register("INVALID_PROFILE", errx.TypeValidation, http.StatusBadRequest, "Invalid profile data")
	CodeFieldNotEditable  = ErrRegistry.Register("FIELD_NOT_EDITABLE", errx.TypeValidation, http.StatusBadRequest, "Field does not belong to the account's role")
	CodeRoleNotAllowed    = ErrRegistry.Register("ROLE_NOT_ALLOWED", errx.TypeBusiness, http.StatusForbidden, "Role cannot be self-assigned")
	CodeSyncUnresolved    = ErrRegistry.Register("SYNC_UNRESOLVED", errx.TypeInternal, http.StatusInternalServerError, "Profile could not be reconciled with identity")
)

func ErrProfileNotFound() *errx.Error   { return ErrRegistry.New(CodeProfileNotFound) }
func ErrExtensionNotFound() *errx.Error { return ErrRegistry.New(CodeExtensionNotFound) }
func ErrConflict() *errx.Error          { return ErrRegistry.New(CodeConflict) }
func ErrMalformedIdentity() *errx.Error { return ErrRegistry.New(CodeMalformedIdentity) }
func ErrInvalidProfile() *errx.Error    { return ErrRegistry.New(CodeInvalidProfile) }
func ErrFieldNotEditable() *errx.Error  { return ErrRegistry.New(CodeFieldNotEditable) }
func ErrRoleNotAllowed() *errx.Error    { return ErrRegistry.New(CodeRoleNotAllowed) }
func ErrSyncUnresolved() *errx.Error    { return ErrRegistry.New(CodeSyncUnresolved) }

// ErrStoreUnavailable is the TransientStoreError: retryable by the caller.
func ErrStoreUnavailable(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeStoreUnavailable, cause)
}
