package httpx

import (
	"errors"
	"net/http"

	"github.com/sentra-iam/sentra/internal/shared"
)

// RespondError maps engine errors to RFC7807 responses. The numeric engine
// code rides along in the problem body so clients can branch on the precise
// cause without parsing the detail string.
func RespondError(w http.ResponseWriter, err error) {
	var engineErr *shared.Error
	if !errors.As(err, &engineErr) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "", 0)
		return
	}
	status := statusFor(engineErr)
	detail := engineErr.Msg
	if status == http.StatusInternalServerError {
		// store internals stay out of responses
		detail = ""
	}
	Problem(w, status, engineErr.Kind.String(), detail, engineErr.Code)
}

func statusFor(err *shared.Error) int {
	if err.Code == shared.CodeUserPwInvalid || err.Code == shared.CodeSessionExpired {
		return http.StatusUnauthorized
	}
	switch err.Kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindAlreadyExists:
		return http.StatusConflict
	case shared.KindConstraint:
		return http.StatusUnprocessableEntity
	case shared.KindSessionState:
		return http.StatusConflict
	case shared.KindAuthzDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
