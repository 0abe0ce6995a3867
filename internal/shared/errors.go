// Package shared holds the error taxonomy, audit recorder and context
// helpers used by every engine manager.
package shared

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Callers branch on kind first and on the
// numeric code when they need the precise cause.
type Kind int

const (
	// KindValidation covers malformed or missing input. Never retried.
	KindValidation Kind = iota + 1
	// KindNotFound covers referential-integrity misses.
	KindNotFound
	// KindAlreadyExists covers duplicate entities.
	KindAlreadyExists
	// KindConstraint covers SSD/DSD cardinality, temporal-window and
	// hierarchy-cycle violations.
	KindConstraint
	// KindSessionState covers expected session probes: role not assigned,
	// already active, not active. Callers routinely hit these on purpose.
	KindSessionState
	// KindAuthzDenied covers delegated-administration denials.
	KindAuthzDenied
	// KindStore covers store collaborator failures. Always fatal to the
	// current operation; the engine never retries.
	KindStore
)

// String returns the lowercase kind label used in logs and responses.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindConstraint:
		return "constraint_violation"
	case KindSessionState:
		return "session_state"
	case KindAuthzDenied:
		return "authz_denied"
	case KindStore:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Stable numeric error codes. These are part of the wire contract and must
// never be renumbered.
const (
	// Validation (1xxx).
	CodeNullInput   = 1001
	CodeInvalidName = 1002
	CodeInvalidData = 1003

	// User (2xxx).
	CodeUserNotFound      = 2001
	CodeUserPwInvalid     = 2002
	CodeUserLocked        = 2003
	CodeUserPlcyViolation = 2004
	CodeUserExists        = 2005

	// Role and hierarchy (3xxx).
	CodeRoleNotFound     = 3001
	CodeRoleExists       = 3002
	CodeRoleInUse        = 3003
	CodeHierCycle        = 3004
	CodeHierEdgeExists   = 3005
	CodeHierEdgeNotFound = 3006

	// Separation of duty (4xxx).
	CodeSsdValidationFailed = 4002
	CodeDsdValidationFailed = 4003
	CodeSDSetCardinality    = 4004
	CodeSDSetNotFound       = 4005
	CodeSDSetExists         = 4006

	// Session state (5xxx).
	CodeRoleNotAssigned    = 5001
	CodeRoleAlreadyActive  = 5002
	CodeRoleActivateFailed = 5003
	CodeRoleNotActive      = 5004
	CodeSessionNotFound    = 5005
	CodeSessionExpired     = 5006

	// Temporal axes (6xxx).
	CodeTemporalDate    = 6001
	CodeTemporalLock    = 6002
	CodeTemporalDay     = 6003
	CodeTemporalTime    = 6004
	CodeTemporalTimeout = 6005

	// Delegated administration (7xxx).
	CodeArbacAuthzDenied  = 7001
	CodeArbacRangeInvalid = 7002

	// Other entities (8xxx).
	CodePermNotFound    = 8001
	CodePermExists      = 8002
	CodeOrgUnitNotFound = 8003
	CodeOrgUnitExists   = 8004
	CodeOrgUnitInUse    = 8005

	// Store (9xxx).
	CodeStoreFailure  = 9001
	CodeStoreConflict = 9002
)

// Error is the typed failure returned by every engine operation. Expected,
// frequently taken branches (dropping an inactive role, probing assignment
// state) are values of this type, not panics.
type Error struct {
	Code int
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Msg)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// Is matches engine errors by code so sentinels compare with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError builds a typed engine error.
func NewError(code int, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

// Errorf builds a typed engine error with a formatted message.
func Errorf(code int, kind Kind, format string, args ...any) *Error {
	return &Error{Code: code, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapStore wraps a store collaborator failure. Fatal to the caller.
func WrapStore(err error, msg string) *Error {
	return &Error{Code: CodeStoreFailure, Kind: KindStore, Msg: msg, Err: err}
}

// CodeOf extracts the numeric code from err, or 0 when err is not an engine
// error.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// KindOf extracts the kind from err, or 0 when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// HasCode reports whether err carries the given engine code.
func HasCode(err error, code int) bool { return CodeOf(err) == code }
