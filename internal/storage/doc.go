// Package storage defines the contract between the evaluation driver and a
// transactional key-value backend.
//
// A backend provides two capabilities:
//   - Snapshot: a consistent, read-only view at a point in time. Snapshots
//     are safe for concurrent reads and see none of the writes committed
//     after they were taken.
//   - WriteBatch: a buffered set of puts and deletes applied atomically by
//     Commit. A batch fails with ErrConflict when another batch committed a
//     write to one of its keys after it began.
//
// Keys and values are opaque byte strings. Scans return keys in ascending
// byte order, which internal/codec arranges to match tuple order.
//
// Implementations live in the memory, badger and sqlite subpackages. The
// storagetest package holds the conformance suite they all pass.
package storage
