// Package storage persists the alarm collection as one snapshot.
//
// Drivers:
//   - file: JSON snapshot written atomically (tmp + fsync + rename)
//   - sqlite: single blob row in a kv table (modernc.org/sqlite, no cgo)
//   - memory: process-local, for tests and dry runs
package storage
