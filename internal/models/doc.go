// Package models defines the catalog entities and the records exchanged between
// the rekordbox extraction adapter, the reconciliation engine and the catalog store.
//
// The package contains three categories of types:
//
// 1. Persisted catalog entities, as read back from the store
//   - [Track] : a catalog track with its embedded tag names
//   - [Playlist] : a playlist or folder node with its ordered track IDs
//   - [Tag] : a globally unique tag name
//
// 2. Write inputs, validated by the store before any row is touched
//   - [TrackInput] : fields for add/update; ExternalID is the reconciliation key
//   - [PlaylistInput] : playlist fields plus the final, ordered track list
//
// 3. Extracted records, produced by the adapter from the external database
//   - [ExtractedTrack] : a normalized djmdContent row
//   - [ExtractedPlaylist] : a djmdPlaylist node with external track IDs
//
// Timestamps are RFC3339 UTC strings owned by the store; callers never set them.
package models
