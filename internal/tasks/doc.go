// Package tasks reconciles extracted Rekordbox data into the local catalog and exports catalog playlists.
//
// # Core Operations
//
// [Engine] exposes four operations:
//
//  1. [Engine.ImportTracks] : Rekordbox → catalog track import
//     - Opens the external database (binding first, direct access second)
//     - Extracts and normalizes every content row, then closes the source
//     - Reconciles the records in one transaction keyed on the external content ID
//
//  2. [Engine.ImportPlaylists] : Rekordbox → catalog playlist import
//     - Extracts the playlist tree parent-first
//     - Remaps external track IDs to catalog IDs, dropping unknown ones
//     - Writes every playlist in one transaction
//
//  3. [Engine.ReconcileTracks] and [Engine.ReconcilePlaylists] : the batch step on its own, for callers that
//     already hold extracted records and a [repositories.Session]
//
//  4. [Engine.ExportPlaylists] : catalog → files
//     - Worker pool with a rate limiter writing json, csv, markdown, txt or m3u
//     - Writes export_manifest.json summarizing every playlist
//
// # Atomicity
//
// A reconciliation either applies every record or none. Failures are returned as [shared.TransactionError] carrying
// the attempted and applied counts of the rolled back batch.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
package tasks
