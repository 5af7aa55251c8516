// Package apperr classifies failures into the five stable error classes
// shared by every component and by the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// #region codes

// Code is a machine-readable error class.
type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeScope      Code = "SCOPE"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeIntegrity  Code = "INTEGRITY"
)

// HTTPStatus maps an error class to its transport status code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeScope:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// #endregion

// #region error

// Error is a classified failure. Field carries a request-relative locator
// ("signal_ids[2]") when the failure is tied to one input field.
type Error struct {
	Code    Code
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{string(e.Code)}
	if e.Field != "" {
		parts = append(parts, e.Field)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// Detail returns the human-readable part of the error, without the code or
// field prefix. Used when rendering API envelopes.
func (e *Error) Detail() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// New builds a classified error with a field locator. field may be empty.
func New(code Code, field, format string, args ...any) *Error {
	return &Error{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error without losing its chain.
func Wrap(code Code, field string, err error) *Error {
	return &Error{Code: code, Field: field, Err: err}
}

// #endregion

// #region list

// List accumulates classified failures, used by request validation so every
// bad field is reported in one pass.
type List []*Error

func (l List) Error() string {
	msgs := make([]string, 0, len(l))
	for _, e := range l {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Add appends a new classified failure to the list.
func (l *List) Add(code Code, field, format string, args ...any) {
	*l = append(*l, New(code, field, format, args...))
}

// Err returns the list as an error, or nil when nothing was added.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// #endregion

// #region inspection

// CodeOf extracts the error class from err, unwrapping as needed.
// Returns "" for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var l List
	if errors.As(err, &l) && len(l) > 0 {
		return l[0].Code
	}
	return ""
}

// Is reports whether err carries the given error class.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Flatten expands err into its classified components: a List yields its
// elements, a bare *Error yields itself, anything else yields nil.
func Flatten(err error) []*Error {
	var l List
	if errors.As(err, &l) {
		return l
	}
	var e *Error
	if errors.As(err, &e) {
		return []*Error{e}
	}
	return nil
}

// #endregion
