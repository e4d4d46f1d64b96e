package usecase

import (
	"errors"
	"fmt"

	"cognitive-blackbox/internal/casestore"
	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/session"
)

type ErrorCode string

// The first seven codes mirror the error taxonomy; the last two describe
// outcomes that are not faults.
const (
	ErrorAPI           ErrorCode = ErrorCode(domain.ErrorTypeAPI)
	ErrorValidation    ErrorCode = ErrorCode(domain.ErrorTypeValidation)
	ErrorSession       ErrorCode = ErrorCode(domain.ErrorTypeSession)
	ErrorConfiguration ErrorCode = ErrorCode(domain.ErrorTypeConfiguration)
	ErrorSystem        ErrorCode = ErrorCode(domain.ErrorTypeSystem)
	ErrorUserInput     ErrorCode = ErrorCode(domain.ErrorTypeUserInput)
	ErrorNetwork       ErrorCode = ErrorCode(domain.ErrorTypeNetwork)
	ErrorBoundary      ErrorCode = "BOUNDARY"
	ErrorNotFound      ErrorCode = "NOT_FOUND"
)

type Error struct {
	Code   ErrorCode
	Reason string
	// UserMessage is safe to show to the end user.
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// boundaryError reports a state machine refusal. These are expected outcomes
// and never reach the error handler.
func boundaryError(err error) (*Error, bool) {
	switch {
	case errors.Is(err, session.ErrAtFinalStage):
		return &Error{Code: ErrorBoundary, Reason: "at_final_stage", UserMessage: "This is already the final act.", Err: err}, true
	case errors.Is(err, session.ErrAtFirstStage):
		return &Error{Code: ErrorBoundary, Reason: "at_first_stage", UserMessage: "This is already the first act.", Err: err}, true
	case errors.Is(err, session.ErrNotAtFinalStage):
		return &Error{Code: ErrorBoundary, Reason: "not_at_final_stage", UserMessage: "The case can only be finished in the final act.", Err: err}, true
	case errors.Is(err, session.ErrMomentUnavailable):
		return &Error{Code: ErrorBoundary, Reason: "moment_unavailable", UserMessage: "That moment is not available right now.", Err: err}, true
	}
	return nil, false
}

func notFoundError(err error) (*Error, bool) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return &Error{Code: ErrorNotFound, Reason: "session_not_found", UserMessage: "Session not found.", Err: err}, true
	case errors.Is(err, casestore.ErrCaseNotFound):
		return &Error{Code: ErrorNotFound, Reason: "case_not_found", UserMessage: "Case not found.", Err: err}, true
	case errors.Is(err, session.ErrToolNotFound):
		return &Error{Code: ErrorNotFound, Reason: "tool_not_found", UserMessage: "Tool not found.", Err: err}, true
	case errors.Is(err, session.ErrNoBackup):
		return &Error{Code: ErrorNotFound, Reason: "backup_not_found", UserMessage: "No backup is available for this session.", Err: err}, true
	}
	return nil, false
}

// fromInfo converts a handled error into a use-case error.
func fromInfo(reason string, info domain.ErrorInfo, err error) *Error {
	return &Error{Code: ErrorCode(info.Type), Reason: reason, UserMessage: info.UserMessage, Err: err}
}
