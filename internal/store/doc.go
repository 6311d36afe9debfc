// Package store provides durable key to blob storage for the space.
//
// Blobs are grouped into scopes ("things", "holders") and addressed by a
// string key inside their scope. Backends:
//   - SQLite via database/sql, with either the cgo driver (mattn/go-sqlite3)
//     or the pure Go one (modernc.org/sqlite)
//   - Pebble, an LSM key-value store
//   - Memory, for tests and ephemeral engines
//
// Wrappers compose over any backend:
//   - Migrating stamps every blob with a format version and upgrades older
//     blobs on read. It fails closed: a blob it cannot interpret is never
//     returned.
//   - Cached keeps recently read blobs in an LRU.
//
// # Database Configuration
//
// SQLite stores are opened with:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
package store
