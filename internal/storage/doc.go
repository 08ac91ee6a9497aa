// Package storage persists captured events and runtime settings in a
// single sqlite database.
//
// It holds:
//   - The bounded append-only event log (capped at MaxEvents rows)
//   - The key-value settings table (watched packages, destinations,
//     flags, last-seen diagnostics), including migration from the
//     legacy flat-set package encoding
package storage
