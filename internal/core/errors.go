package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownExtension       = errors.New("unknown extension")
	ErrUnmetDependency        = errors.New("unmet dependency")
	ErrDependentsStillEnabled = errors.New("dependents still enabled")

	ErrItemUnavailable  = errors.New("menu item is not available")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrCartLineNotFound = errors.New("cart line not found")
	ErrEmptyCart        = errors.New("cart is empty")

	ErrOrderNotFound       = errors.New("order not found")
	ErrBranchNotFound      = errors.New("branch not found")
	ErrForbiddenTransition = errors.New("forbidden status transition")
	ErrTableUnavailable    = errors.New("table is not available")

	// ErrStorage is what the service layer surfaces when the persistence
	// layer fails. The driver error is logged, never returned to callers.
	ErrStorage = errors.New("storage failure, try again later")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in the caller's input, not
// just the first one.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
