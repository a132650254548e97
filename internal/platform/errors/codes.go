// Package errors provides structured error handling for the auth engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authorization request errors
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeUnauthorizedClient  Code = "UNAUTHORIZED_CLIENT"
	CodeInvalidScope        Code = "INVALID_SCOPE"
	CodeAccessDenied        Code = "ACCESS_DENIED"
	CodeUnsupportedGrant    Code = "UNSUPPORTED_GRANT_TYPE"
	CodeUnsupportedResponse Code = "UNSUPPORTED_RESPONSE_TYPE"

	// Grant errors
	CodeGrantInvalid Code = "GRANT_INVALID"
	CodeGrantExpired Code = "GRANT_EXPIRED"
	CodeGrantUsed    Code = "GRANT_USED"
	CodeGrantReused  Code = "GRANT_REUSED"

	// Access token errors
	CodeTokenMalformed          Code = "TOKEN_MALFORMED"
	CodeTokenBadSignature       Code = "TOKEN_BAD_SIGNATURE"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeTokenAudienceMismatch   Code = "TOKEN_AUDIENCE_MISMATCH"
	CodeTokenUnknownKeyVersion  Code = "TOKEN_UNKNOWN_KEY_VERSION"
	CodeTokenSigningUnavailable Code = "TOKEN_SIGNING_UNAVAILABLE"

	// Application errors
	CodeApplicationNotFound Code = "APPLICATION_NOT_FOUND"
	CodeApplicationInactive Code = "APPLICATION_INACTIVE"

	// Permission errors
	CodePermissionDenied        Code = "PERMISSION_DENIED"
	CodePermissionUnknownRole   Code = "PERMISSION_UNKNOWN_ROLE"
	CodePermissionEmptyResource Code = "PERMISSION_EMPTY_RESOURCE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeStorage  Code = "STORAGE_FAILURE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidRequest,
		CodeInvalidScope,
		CodeUnsupportedGrant,
		CodeUnsupportedResponse,
		CodePermissionEmptyResource:
		return codes.InvalidArgument

	// Unauthenticated - bad or missing credentials
	case CodeGrantInvalid,
		CodeGrantExpired,
		CodeGrantUsed,
		CodeGrantReused,
		CodeTokenMalformed,
		CodeTokenBadSignature,
		CodeTokenExpired,
		CodeTokenAudienceMismatch,
		CodeTokenUnknownKeyVersion:
		return codes.Unauthenticated

	// PermissionDenied - authenticated but not allowed
	case CodeUnauthorizedClient,
		CodeAccessDenied,
		CodePermissionDenied,
		CodePermissionUnknownRole:
		return codes.PermissionDenied

	// NotFound - missing records
	case CodeNotFound,
		CodeApplicationNotFound:
		return codes.NotFound

	// FailedPrecondition - state disallows the operation
	case CodeApplicationInactive:
		return codes.FailedPrecondition

	// Internal - infrastructure failures
	case CodeStorage,
		CodeTokenSigningUnavailable:
		return codes.Internal

	default:
		return codes.Unknown
	}
}
