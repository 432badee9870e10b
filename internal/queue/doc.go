// Package queue persists pending upload jobs in SQLite and exposes the
// enqueue, lease, acknowledge, and release operations the upload worker
// drives.
//
// Every Enqueue commits before it returns, so a job survives a crash the
// moment the producer regains control. Dequeue leases the oldest visible job
// without removing it; only Ack deletes a row, and a job whose upload failed
// is released back to the head of the queue. Leases left behind by a crashed
// process are cleared by RecoverLeases at daemon start, which gives
// at-least-once delivery in enqueue order.
//
// The database is treated as transient storage for in-flight jobs rather than
// an archive. Schema changes bump the version in schema.go; users clear the
// database to adopt the new schema.
package queue
