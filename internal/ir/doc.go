// Package ir provides the intermediate representation shared by every layer
// of strata: values, tuples, relation schemas, rules and programs.
//
// This package contains type definitions and their ordering only. All other
// internal packages import ir; ir imports nothing internal. This keeps IR the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Value is a sealed interface; only the kinds declared here implement it
//   - Values are totally ordered (kind first, then value) and the order is
//     the one the key codec preserves byte-for-byte
//   - Strings are NFC-normalised at construction so equal text compares equal
//   - Int and Float are distinct kinds: Int(1) != Float(1)
//   - All JSON tags use snake_case
package ir
