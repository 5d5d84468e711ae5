// Package localstore provides the durable on-device store backing the
// offline queue and the analytics buffer.
//
// The store is an embedded SQLite database (via ncruces/go-sqlite3) opened
// in WAL mode so readers and writers do not block each other. Two tables
// hold the durable records:
//
//   - offline_queue: pending user mutations awaiting replay
//   - analytics_events: telemetry events awaiting batch delivery
//
// Both tables are keyed by id with secondary indexes on status/sent,
// timestamp, and type.
//
// The store is fail-open by policy: if the database cannot be opened or a
// statement fails, every method degrades to a no-op success (reads return
// empty, writes are dropped) and the failure is logged. Callers never see
// an error from this package; durability is lost only while storage itself
// is unavailable.
//
// Initialization is lazy and idempotent. The first operation opens the
// database and creates the schema; concurrent callers share the single
// in-flight initialization rather than racing to open the file twice.
package localstore
