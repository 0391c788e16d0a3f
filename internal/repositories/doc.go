// Package repositories implements the local catalog store over SQLite.
//
// A [Catalog] owns the database file and its connection pool. Work is done through a [Session], which pins one
// dedicated connection for the lifetime of a worker (one HTTP request, one CLI command, one import). Sessions are
// never shared between goroutines.
//
// Every mutating Session call runs in its own transaction and commits or rolls back before returning. Bulk imports
// instead open a [Batch] with [Session.Begin]; a Batch holds one transaction across all of its writes and the caller
// decides whether to commit.
//
// Referential integrity is enforced here rather than by the engine: deleting a track removes its tag and playlist
// memberships first, and playlist writes reject unknown parents and tracks.
package repositories
