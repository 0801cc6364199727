package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sparkchat/internal/coordinator"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewMethodNotAllowedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
	}
}

func NewTooManyRequestsError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Code:       string(coordinator.CodeRateLimited),
		Message:    "rate limit exceeded",
	}
}

var coordinatorStatus = map[coordinator.Code]int{
	coordinator.CodeAuthRequired:     http.StatusUnauthorized,
	coordinator.CodeNotAParticipant:  http.StatusForbidden,
	coordinator.CodeSessionNotFound:  http.StatusNotFound,
	coordinator.CodeSessionNotActive: http.StatusConflict,
	coordinator.CodeAlreadyInSession: http.StatusConflict,
	coordinator.CodeMatchExpired:     http.StatusGone,
	coordinator.CodeInvalidState:     http.StatusConflict,
	coordinator.CodeInvalidContent:   http.StatusBadRequest,
	coordinator.CodeRateLimited:      http.StatusTooManyRequests,
	coordinator.CodeStorageFailure:   http.StatusInternalServerError,
	coordinator.CodeInternal:         http.StatusInternalServerError,
}

// fromCoordinatorError maps a coordinator error onto an HTTP error with the
// stable code preserved.
func fromCoordinatorError(err error) *ApiError {
	var cerr *coordinator.Error
	if !errors.As(err, &cerr) {
		return NewInternalServerError(err)
	}

	status, ok := coordinatorStatus[cerr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	return &ApiError{
		StatusCode: status,
		Code:       string(cerr.Code),
		Message:    cerr.Message,
		Err:        cerr.Err,
	}
}
