package coordinator

import "fmt"

// Code is a stable, user-facing error code.
type Code string

const (
	CodeAuthRequired     Code = "AuthRequired"
	CodeNotAParticipant  Code = "NotAParticipant"
	CodeSessionNotFound  Code = "SessionNotFound"
	CodeSessionNotActive Code = "SessionNotActive"
	CodeAlreadyInSession Code = "AlreadyInSession"
	CodeMatchExpired     Code = "MatchExpired"
	CodeInvalidState     Code = "InvalidState"
	CodeInvalidContent   Code = "InvalidContent"
	CodeRateLimited      Code = "RateLimited"
	CodeStorageFailure   Code = "StorageFailure"
	CodeInternal         Code = "Internal"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Err.Error())
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewAuthRequiredError() *Error {
	return &Error{Code: CodeAuthRequired, Message: "authentication required"}
}

func NewNotAParticipantError() *Error {
	return &Error{Code: CodeNotAParticipant, Message: "not a participant"}
}

func NewSessionNotFoundError() *Error {
	return &Error{Code: CodeSessionNotFound, Message: "session not found"}
}

func NewSessionNotActiveError() *Error {
	return &Error{Code: CodeSessionNotActive, Message: "session is not active"}
}

func NewAlreadyInSessionError() *Error {
	return &Error{Code: CodeAlreadyInSession, Message: "already in an active session"}
}

func NewMatchExpiredError() *Error {
	return &Error{Code: CodeMatchExpired, Message: "match has expired"}
}

func NewInvalidStateError(observed string) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf("illegal transition, current status is %q", observed)}
}

func NewInvalidContentError(reason string) *Error {
	return &Error{Code: CodeInvalidContent, Message: reason}
}

func NewRateLimitedError() *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
}

func NewStorageFailureError(err error) *Error {
	return &Error{Code: CodeStorageFailure, Message: "storage failure", Err: err}
}

func NewInternalError(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}
