package compiler

import (
	"github.com/roach88/strata/internal/ir"
)

// Compile runs the whole compile phase: validation, graph construction and
// stratification. It performs no I/O; stored reports catalog membership
// from a catalog view the caller already read.
func Compile(p *ir.Program, env Env, stored func(name string) bool) (*Stratification, error) {
	if errs := ValidateProgram(p, env); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	g, err := BuildGraph(p, stored)
	if err != nil {
		return nil, err
	}
	return Stratify(g)
}
