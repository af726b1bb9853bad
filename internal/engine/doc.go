// Package engine implements the strata evaluation engine.
//
// The engine takes a compiled program, reads the stored relations it needs
// from one storage snapshot, computes every stratum to its least fixpoint
// and returns the output relation. A program may ask for its output to be
// written back; the writes go through one write batch opened alongside the
// snapshot and commit atomically, or not at all.
//
// ARCHITECTURE:
//
// Query Flow:
// 1. Validate the program against the configured reducers, operators and
// fixed rules (pure, no I/O)
// 2. Acquire a snapshot, and a write batch when persisting
// 3. Read catalog entries of referenced relations
// 4. Build the dependency graph and stratify
// 5. Evaluate strata in order, semi-naive within each stratum
// 6. Extract the output in tuple order; persist and commit if requested
//
// Within a round, rule evaluations run on a bounded errgroup pool. Each
// evaluation returns its own result slice; the driver merges them in rule
// order between rounds, so relations are never written concurrently.
//
// Strata run strictly in order. A stratum only reads its own relations and
// the finalized relations of earlier strata.
//
// Errors are classified by Classify; see ErrorKind.
package engine
