package httputil

// Machine-readable error codes attached to error responses so clients do
// not have to match on message text.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeEmailRequired      = "email_required"
	CodeInvalidEmailFormat = "invalid_email_format"
	CodePasswordRequired   = "password_required"
	CodeEmailAlreadyExists = "email_already_exists"
	CodeInvalidCredentials = "invalid_credentials"
	CodeCodeNotFound       = "verification_code_not_found"
	CodeCodeExpired        = "verification_code_expired"
	CodeInvalidAuthHeader  = "invalid_authorization_header"
	CodeMissingAuth        = "missing_authentication"
	CodeInvalidToken       = "invalid_token"
	CodeStoreUnavailable   = "store_unavailable"
	CodeInternalError      = "internal_error"
)
