package requests

import (
	"errors"
	"fmt"
)

// ErrorKind is the category of a rejected operation.
type ErrorKind string

const (
	KindValidationFailed  ErrorKind = "ValidationFailed"
	KindNotAuthorized     ErrorKind = "NotAuthorized"
	KindCommentRequired   ErrorKind = "CommentRequired"
	KindPersistenceFailed ErrorKind = "PersistenceFailed"
	KindUnknown           ErrorKind = "Unknown"
)

// Machine-readable error codes.
const (
	CodeInvalidTransition   = "LIFECYCLE_INVALID_TRANSITION"
	CodeNotAuthorized       = "NOT_AUTHORIZED"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeCommentRequired     = "COMMENT_REQUIRED"
	CodePersistenceFailed   = "PERSISTENCE_FAILED"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeNotFound            = "NOT_FOUND"
	CodeUnknown             = "UNKNOWN"
)

var (
	ErrNotFound            = errors.New("request not found")
	ErrConcurrencyConflict = errors.New("request was modified by another client")
	ErrMissingToken        = errors.New("concurrency token is required")
	ErrNotificationFailed  = errors.New("notification failed")

	ErrNotAuthorized     = errors.New("not authorized")
	ErrValidationFailed  = errors.New("validation failed")
	ErrCommentRequired   = errors.New("comment required")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrUnknown           = errors.New("unknown error")
)

var kindSentinels = map[ErrorKind]error{
	KindNotAuthorized:     ErrNotAuthorized,
	KindValidationFailed:  ErrValidationFailed,
	KindCommentRequired:   ErrCommentRequired,
	KindPersistenceFailed: ErrPersistenceFailed,
	KindUnknown:           ErrUnknown,
}

// TransitionError is a structured rejection of a workflow operation.
// errors.Is matches both the sentinel for its Kind and the wrapped cause.
type TransitionError struct {
	Code    string            `json:"code"`
	Kind    ErrorKind         `json:"kind"`
	From    Status            `json:"from,omitempty"`
	To      Status            `json:"to,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *TransitionError) Error() string {
	return e.Message
}

func (e *TransitionError) Unwrap() []error {
	var errs []error
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the category of err. Errors that are not TransitionErrors
// are Unknown.
func KindOf(err error) ErrorKind {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

func notAuthorized(from, to Status, format string, args ...any) *TransitionError {
	return &TransitionError{
		Code:    CodeNotAuthorized,
		Kind:    KindNotAuthorized,
		From:    from,
		To:      to,
		Message: fmt.Sprintf(format, args...),
	}
}

func validationFailed(from, to Status, result ValidationResult) *TransitionError {
	return &TransitionError{
		Code:    CodeValidationFailed,
		Kind:    KindValidationFailed,
		From:    from,
		To:      to,
		Message: "one or more fields are invalid",
		Fields:  result.Fields(),
	}
}

func commentRequired(from, to Status) *TransitionError {
	return &TransitionError{
		Code:    CodeCommentRequired,
		Kind:    KindCommentRequired,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("a comment is required to move a request from %s to %s", from, to),
	}
}

func persistenceFailed(from, to Status, err error) *TransitionError {
	code := CodePersistenceFailed
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		code = CodeConcurrencyConflict
	case errors.Is(err, ErrNotFound):
		code = CodeNotFound
	}
	return &TransitionError{
		Code:    code,
		Kind:    KindPersistenceFailed,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("failed to save request: %v", err),
		Err:     err,
	}
}

func unknownError(from, to Status, err error) *TransitionError {
	return &TransitionError{
		Code:    CodeUnknown,
		Kind:    KindUnknown,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("unknown error: %v", err),
		Err:     err,
	}
}
