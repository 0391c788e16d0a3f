// Package server exposes the catalog and the Rekordbox import engine over a small JSON HTTP API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns ("GET /api/tracks/{id}"), so unsupported
// methods get a 405 from the mux itself.
//
// # Middleware
//
//   - [Recover] converts handler panics into a JSON 500
//   - [Logging] writes one structured log line per request
//   - [RateLimit] applies a shared token bucket and answers 429 when it is empty
//
// # Routes
//
//	GET    /                              → app name, version and status
//	GET    /api/health                    → {"status": "healthy"}
//	GET    /api/tracks?skip&limit&search  → paged track listing
//	GET    /api/tracks/{id}               → one track, 404 when absent
//	DELETE /api/tracks/{id}               → delete a track and its memberships
//	POST   /api/tracks/{id}/tags          → tag a track by tag name
//	GET    /api/playlists                 → every playlist with ordered track IDs
//	GET    /api/playlists/{id}/tracks     → a playlist's tracks in play order
//	GET    /api/tags                      → every tag
//	POST   /api/tags                      → create or fetch a tag by name
//	POST   /api/rekordbox/connect         → probe an external database and remember it
//	POST   /api/rekordbox/import          → import tracks from the connected database
//	POST   /api/rekordbox/import-playlists → import playlists from the connected database
//	GET    /api/database/stats            → catalog counts and file size
//	POST   /api/database/vacuum           → compact the catalog file
//
// # Concurrency
//
// Each request acquires its own catalog session and releases it before returning. Import requests are serialized
// by a mutex on the [Server] because concurrent reconciliation batches against one catalog are not serializable.
// The connected source lives on the Server, never in process environment.
package server
