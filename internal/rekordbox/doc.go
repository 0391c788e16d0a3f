// Package rekordbox extracts tracks and playlists from a rekordbox master database.
//
// The database is encrypted and its schema is not versioned, so [Open] tries two access strategies in order:
//
//  1. A [Binding], when one is configured: a higher-level library that opens the database itself.
//  2. Direct access: the source is copied to a temporary file, opened through a cipher-aware SQLite build with the
//     256-bit key applied as a raw key pragma, and validated by finding a non-empty djmdContent table.
//
// Track rows come from a fixed list of query tiers, richest first. Each tier is tried until one returns rows;
// a tier that raises is recorded on the [Report] and the next one runs. Every row goes through the same
// normalization ([NormalizeDuration], [ScaleBPM], [SplitArtistTitle], placeholder defaults) regardless of tier.
//
// # Encrypted databases
//
// The default go-sqlite3 build bundles stock SQLite, which ignores the key pragma. Direct access to an encrypted
// master.db needs the driver built with the libsqlite3 tag on a host whose system libsqlite3 is SQLCipher:
//
//	CGO_CFLAGS="-DSQLITE_HAS_CODEC" go build -tags libsqlite3 ./cmd
//
// Direct access checks PRAGMA cipher_version before reading an encrypted copy and fails with a connection error
// naming the missing cipher support. Files with the plain SQLite header are opened without a key on any build.
//
// An [Adapter] is used by one goroutine and must be closed; Close deletes the temporary copy even after a failed
// extraction.
package rekordbox
