package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/storage"
)

// ErrRelationNotFound is returned when a stored relation is missing from
// the catalog.
var ErrRelationNotFound = errors.New("relation not found")

// RuntimeError represents an error detected during evaluation.
//
// Runtime errors include:
//   - Type errors: a derived tuple violates its schema, an operator gets
//     values it does not accept, a reducer gets an input it cannot fold
//   - Resource exhaustion: the query exceeded its iteration, derived tuple
//     or time budget
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Relation names the relation being derived, if known.
	Relation string

	// Rule is the index of the rule being evaluated, or -1.
	Rule int

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeTypeError indicates a value that violates a schema or operator.
	ErrCodeTypeError RuntimeErrorCode = "TYPE_ERROR"

	// ErrCodeResourceExhausted indicates the query exceeded its budget.
	ErrCodeResourceExhausted RuntimeErrorCode = "RESOURCE_EXHAUSTED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.Rule >= 0 && e.Relation != "":
		return fmt.Sprintf("%s: %s (relation=%s, rule=%d)", e.Code, e.Message, e.Relation, e.Rule)
	case e.Relation != "":
		return fmt.Sprintf("%s: %s (relation=%s)", e.Code, e.Message, e.Relation)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsTypeError returns true if the error is a type error.
// Uses errors.As to handle wrapped errors.
func IsTypeError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeTypeError
	}
	return false
}

// IsResourceExhausted returns true if the error reports an exceeded budget.
// Uses errors.As to handle wrapped errors.
func IsResourceExhausted(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeResourceExhausted
	}
	return false
}

// NewTypeError creates a RuntimeError for a type violation. rule is -1
// when no single rule is responsible.
func NewTypeError(rule int, relation, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeTypeError,
		Message:  fmt.Sprintf(format, args...),
		Relation: relation,
		Rule:     rule,
	}
}

// NewResourceExhaustedError creates a RuntimeError for an exceeded budget.
func NewResourceExhaustedError(limit string, used, max int64, cause error) *RuntimeError {
	msg := fmt.Sprintf("query exceeded %s (%d > %d)", limit, used, max)
	if max <= 0 {
		msg = fmt.Sprintf("query exceeded %s", limit)
	}
	return &RuntimeError{
		Code:    ErrCodeResourceExhausted,
		Message: msg,
		Rule:    -1,
		Details: map[string]string{
			"limit": limit,
			"used":  fmt.Sprintf("%d", used),
			"max":   fmt.Sprintf("%d", max),
		},
		Err: cause,
	}
}

// ErrorKind is the error taxonomy shared by the API and the CLI.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindUnboundRelation
	KindStratification
	KindType
	KindResourceExhausted
	KindConflict
	KindStorage
	KindCanceled
	KindNotFound
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindValidation:
		return "validation"
	case KindUnboundRelation:
		return "unbound_relation"
	case KindStratification:
		return "stratification"
	case KindType:
		return "type_error"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindConflict:
		return "transaction_conflict"
	case KindStorage:
		return "storage"
	case KindCanceled:
		return "canceled"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// ParseErrorKind returns the kind whose String is s.
func ParseErrorKind(s string) (ErrorKind, bool) {
	for k := KindNone; k <= KindInternal; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return KindInternal, false
}

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorKind {
	var (
		verrs    compiler.ValidationErrors
		verr     compiler.ValidationError
		compErr  *compiler.CompileError
		runtime  *RuntimeError
		storeErr *storage.Error
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &runtime):
		if runtime.Code == ErrCodeResourceExhausted {
			return KindResourceExhausted
		}
		return KindType
	case errors.As(err, &verrs), errors.As(err, &verr), errors.As(err, &compErr):
		return KindValidation
	case compiler.IsUnboundRelation(err):
		return KindUnboundRelation
	case compiler.IsStratification(err):
		return KindStratification
	case errors.Is(err, storage.ErrConflict):
		return KindConflict
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindResourceExhausted
	case errors.Is(err, ErrRelationNotFound):
		return KindNotFound
	case errors.As(err, &storeErr), errors.Is(err, storage.ErrClosed):
		return KindStorage
	default:
		return KindInternal
	}
}
