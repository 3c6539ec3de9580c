package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	WardenErrorBadInput              = "WARDEN_BAD_INPUT"
	WardenErrorChallengeFailed       = "WARDEN_CHALLENGE_FAILED"
	WardenErrorAuthorityUnreachable  = "WARDEN_AUTHORITY_UNREACHABLE"
	WardenErrorValidationTimeout     = "WARDEN_VALIDATION_TIMEOUT"
	WardenErrorCertificateUnserved   = "WARDEN_CERTIFICATE_UNSERVED"
	WardenErrorTokenInvalid          = "WARDEN_TOKEN_INVALID"
	WardenErrorTokenExpired          = "WARDEN_TOKEN_EXPIRED"
	WardenErrorTokenRevoked          = "WARDEN_TOKEN_REVOKED"
	WardenErrorFederationUnreachable = "WARDEN_FEDERATION_UNREACHABLE"
	WardenErrorFederationRejected    = "WARDEN_FEDERATION_REJECTED"
	WardenErrorStoreUnavailable      = "WARDEN_STORE_UNAVAILABLE"
	WardenErrorRateLimited           = "WARDEN_RATE_LIMITED"
	WardenErrorRenewalInFlight       = "WARDEN_RENEWAL_IN_FLIGHT"
	WardenErrorInternal              = "WARDEN_INTERNAL_ERROR"
)

// unauthorizedMessage is the single message every authentication failure
// surfaces externally. TokenInvalid, TokenExpired and TokenRevoked keep their
// distinct text codes for internal diagnostics, but callers can never tell
// them apart from the response.
const unauthorizedMessage = "unauthorized"

// unavailableMessage hides infrastructure causes (authority, store,
// federation down) from untrusted callers once the retry budget is spent.
const unavailableMessage = "service unavailable"

func wardenErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureWardenErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "challenge") && (strings.Contains(msg, "failed") || strings.Contains(msg, "rejected")):
		return newWardenError(err.Error(), goerrors.CategoryOperation, WardenErrorChallengeFailed)
	case strings.Contains(msg, "authority") && strings.Contains(msg, "unreachable"):
		return newWardenError(err.Error(), goerrors.CategoryExternal, WardenErrorAuthorityUnreachable)
	case strings.Contains(msg, "validation") && strings.Contains(msg, "timeout"):
		return newWardenError(err.Error(), goerrors.CategoryExternal, WardenErrorValidationTimeout)
	case strings.Contains(msg, "renewal") && strings.Contains(msg, "in flight"):
		return newWardenError(err.Error(), goerrors.CategoryConflict, WardenErrorRenewalInFlight)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newWardenError(err.Error(), goerrors.CategoryRateLimit, WardenErrorRateLimited)
	case strings.Contains(msg, "store") && strings.Contains(msg, "unavailable"):
		return newWardenError(err.Error(), goerrors.CategoryExternal, WardenErrorStoreUnavailable)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newWardenError(err.Error(), goerrors.CategoryBadInput, WardenErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureWardenErrorEnvelope(mapped)
}

func newWardenError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureWardenErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

// NewUnauthorizedError builds the uniform external authentication failure.
// The distinct cause (token invalid/expired/revoked) travels only in the
// text code and metadata; message and status never vary with it.
func NewUnauthorizedError(textCode string, meta map[string]any) *goerrors.Error {
	err := goerrors.New(unauthorizedMessage, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(strings.TrimSpace(textCode))
	if len(meta) > 0 {
		err = err.WithMetadata(copyAnyMap(meta))
	}
	return err
}

// NewUnavailableError wraps an exhausted transient failure as the generic
// external "service unavailable" outcome, keeping the cause internal.
func NewUnavailableError(textCode string, cause error) *goerrors.Error {
	err := goerrors.Wrap(cause, goerrors.CategoryExternal, unavailableMessage).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(strings.TrimSpace(textCode))
	return ensureWardenErrorEnvelope(err)
}

// IsUnauthorized reports whether err is the uniform authentication failure.
func IsUnauthorized(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth
}

// AuthFailureCode extracts the internal diagnostic code from an
// authentication failure, empty when err is not one.
func AuthFailureCode(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return ""
	}
	if richErr.Category != goerrors.CategoryAuth {
		return ""
	}
	return richErr.TextCode
}

func ensureWardenErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = wardenHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultWardenTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultWardenTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return WardenErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return WardenErrorTokenInvalid
	case goerrors.CategoryRateLimit:
		return WardenErrorRateLimited
	case goerrors.CategoryConflict:
		return WardenErrorRenewalInFlight
	case goerrors.CategoryExternal:
		return WardenErrorAuthorityUnreachable
	case goerrors.CategoryOperation:
		return WardenErrorChallengeFailed
	default:
		return WardenErrorInternal
	}
}

func wardenHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
