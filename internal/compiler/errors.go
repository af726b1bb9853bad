package compiler

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

// UnboundRelationError reports a body atom naming a relation that is
// neither the head of a rule nor a stored relation. Rule is the index of
// the referencing rule, or -1 when the output relation is unbound.
type UnboundRelationError struct {
	Relation string
	Rule     int
}

func (e *UnboundRelationError) Error() string {
	if e.Rule < 0 {
		return fmt.Sprintf("output relation %q is not defined by any rule or stored relation", e.Relation)
	}
	return fmt.Sprintf("rule %d references relation %q, which is not defined by any rule or stored relation",
		e.Rule, e.Relation)
}

// StratificationError reports a negative or aggregated dependency inside a
// recursive component: From depends on To through Kind, and To depends
// back on From.
type StratificationError struct {
	From string
	To   string
	Kind EdgeKind
	Rule int
}

func (e *StratificationError) Error() string {
	return fmt.Sprintf("relation %q has a %s dependency on %q (rule %d) inside a recursive cycle; the program is not stratifiable",
		e.From, e.Kind, e.To, e.Rule)
}

// IsUnboundRelation returns true if err is an UnboundRelationError.
func IsUnboundRelation(err error) bool {
	var target *UnboundRelationError
	return errors.As(err, &target)
}

// IsStratification returns true if err is a StratificationError.
func IsStratification(err error) bool {
	var target *StratificationError
	return errors.As(err, &target)
}
