package colbot

import (
	"errors"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrWrongChannel      = errors.New("wrong channel")
	ErrNotFound          = errors.New("level not found")
	ErrAlreadyAccepted   = errors.New("level already accepted")
	ErrDuplicateVote     = errors.New("user already voted")
	ErrDuplicateID       = errors.New("duplicate level id")
	ErrValidation        = errors.New("validation error")
	ErrEmptyInput        = errors.New("empty input")
	ErrPersistence       = errors.New("persistence error")
	ErrResolution        = errors.New("unable to resolve reference")
	ErrNoLevelsAvailable = errors.New("no levels available")
)

// WorkflowError is returned by command workflows. Kind is one of the
// sentinel errors above, Message is what gets shown to the Discord user,
// and Err is the underlying cause, if any.
//
// Both Kind and Err are reachable via errors.Is/errors.As.
type WorkflowError struct {
	Kind    error
	Message string
	Err     error
}

func (e *WorkflowError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *WorkflowError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newWorkflowError(kind error, message string, cause error) *WorkflowError {
	return &WorkflowError{Kind: kind, Message: message, Err: cause}
}

// UserMessage returns the reply text for an error returned by a
// workflow. Errors without a user-facing message get
// [DefaultDiscordErrorMessage].
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var we *WorkflowError
	if errors.As(err, &we) && we.Message != "" {
		return we.Message
	}
	return DefaultDiscordErrorMessage
}

// errorOutcome returns a short metric label for err's kind
func errorOutcome(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrWrongChannel):
		return "wrong_channel"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyAccepted):
		return "already_accepted"
	case errors.Is(err, ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyInput):
		return "invalid_input"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrResolution):
		return "resolution_error"
	case errors.Is(err, ErrNoLevelsAvailable):
		return "no_levels"
	default:
		return "error"
	}
}
