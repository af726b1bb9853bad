// Package expr evaluates filter and binding expressions.
//
// Operators live in a Table owned by the engine configuration. Arithmetic
// promotes mixed int/float operands to float; "/" and "**" always yield
// floats; "%" accepts integers only. A null operand makes an arithmetic
// result null. Operands of the wrong kind fail with *Error.
package expr
