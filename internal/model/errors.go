package model

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error codes. They are surfaced verbatim to callers.
const (
	CodeMissingField      = "MissingField"
	CodeTypeMismatch      = "TypeMismatch"
	CodeInvalidEnumValue  = "InvalidEnumValue"
	CodeDuplicateValue    = "DuplicateValue"
	CodeDanglingReference = "DanglingReference"
	CodeBlockedReference  = "BlockedReference"
	CodeOutOfRange        = "OutOfRange"
)

// Non-validation codes used in HTTP bodies.
const (
	CodeNotFound          = "NotFound"
	CodeEngineUnavailable = "EngineUnavailable"
	CodeInvalidQuery      = "InvalidQuery"
	CodeInvalidJSON       = "InvalidJSON"
)

// Sentinels for errors.Is checks at the boundaries.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("engine unavailable")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidQuery = errors.New("invalid query")
)

// FieldError is a single violation. Kind and Field let the presentation
// layer highlight the exact form control.
type FieldError struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (fe FieldError) String() string {
	return fmt.Sprintf("%s %s.%s: %s", fe.Code, fe.Kind, fe.Field, fe.Message)
}

// NewFieldError builds a FieldError.
func NewFieldError(code, kind, field, msg string) FieldError {
	return FieldError{Code: code, Kind: kind, Field: field, Message: msg}
}

// ValidationError carries every violation found for one write, in order.
type ValidationError struct {
	Kind   string       `json:"kind"`
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.String())
	}
	return fmt.Sprintf("validate %s: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Codes lists the error codes in order.
func (e *ValidationError) Codes() []string {
	out := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe.Code
	}
	return out
}

// NewValidationError returns nil when errs is empty.
func NewValidationError(kind string, errs []FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Kind: kind, Errors: errs}
}

// AsValidation unwraps a *ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// NotFoundError reports an unknown kind (ID empty) or an unknown record.
type NotFoundError struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("kind %q not found", e.Kind)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a *NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// UnavailableError wraps a store I/O failure. The engine never retries.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: engine unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// QueryError rejects a list filter or sort key.
type QueryError struct {
	Param  string `json:"param"`
	Reason string `json:"reason"`
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query parameter %q: %s", e.Param, e.Reason)
}

func (e *QueryError) Is(target error) bool { return target == ErrInvalidQuery }

// Unavailable wraps err unless it already belongs to the taxonomy.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInvalidQuery) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}
