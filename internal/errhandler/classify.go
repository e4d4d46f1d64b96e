package errhandler

import (
	"context"
	"errors"
	"net"

	"cognitive-blackbox/internal/casestore"
	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/session"
	"cognitive-blackbox/internal/validate"
)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Classify maps a Go error onto the failure taxonomy.
func Classify(err error) domain.ErrorType {
	if err == nil {
		return domain.ErrorTypeSystem
	}

	var fieldErr *validate.FieldError
	if errors.As(err, &fieldErr) {
		if fieldErr.Kind == domain.ErrorTypeUserInput {
			return domain.ErrorTypeUserInput
		}
		return domain.ErrorTypeValidation
	}

	var schemaErr *casestore.ValidationError
	if errors.As(err, &schemaErr) || errors.Is(err, casestore.ErrCaseNotFound) {
		return domain.ErrorTypeConfiguration
	}

	switch {
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrCorruptSession),
		errors.Is(err, session.ErrNoBackup):
		return domain.ErrorTypeSession
	case errors.Is(err, session.ErrAtFinalStage),
		errors.Is(err, session.ErrAtFirstStage),
		errors.Is(err, session.ErrNotAtFinalStage),
		errors.Is(err, session.ErrMomentUnavailable),
		errors.Is(err, session.ErrToolNotFound):
		return domain.ErrorTypeUserInput
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorTypeAPI
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrorTypeAPI
		}
		return domain.ErrorTypeNetwork
	}

	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		return domain.ErrorTypeAPI
	}
	return domain.ErrorTypeSystem
}
