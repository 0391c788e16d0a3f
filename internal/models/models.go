package models

import (
	"strings"

	"github.com/desertthunder/crate/internal/shared"
)

// Track is a catalog track.
//
// ExternalID is empty when the track was added directly rather than imported.
type Track struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Artist     string   `json:"artist"`
	Album      string   `json:"album"`
	Genre      string   `json:"genre"`
	Duration   float64  `json:"duration"`
	FilePath   string   `json:"file_path"`
	BPM        float64  `json:"bpm"`
	Key        string   `json:"key"`
	Energy     *float64 `json:"energy,omitempty"`
	ExternalID string   `json:"rekordbox_id,omitempty"`
	Tags       []string `json:"tags"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

// TrackInput carries the caller-settable fields of a track.
type TrackInput struct {
	Title      string   `json:"title"`
	Artist     string   `json:"artist"`
	Album      string   `json:"album"`
	Genre      string   `json:"genre"`
	Duration   float64  `json:"duration"`
	FilePath   string   `json:"file_path"`
	BPM        float64  `json:"bpm"`
	Key        string   `json:"key"`
	Energy     *float64 `json:"energy,omitempty"`
	ExternalID string   `json:"rekordbox_id,omitempty"`
}

// Validate reports the first required or out-of-range field.
func (in TrackInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return &shared.ValidationError{Field: "title", Reason: "is required"}
	}
	if in.Duration < 0 {
		return &shared.ValidationError{Field: "duration", Reason: "must not be negative"}
	}
	if in.BPM < 0 {
		return &shared.ValidationError{Field: "bpm", Reason: "must not be negative"}
	}
	return nil
}

// Playlist is a catalog playlist. Folders never carry tracks.
type Playlist struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	ParentID   *int64  `json:"parent_id"`
	IsFolder   bool    `json:"is_folder"`
	ExternalID string  `json:"rekordbox_id,omitempty"`
	TrackCount int     `json:"track_count"`
	TrackIDs   []int64 `json:"tracks"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// PlaylistInput describes a playlist write. TrackIDs are stored in the given order, position = index.
type PlaylistInput struct {
	Name       string  `json:"name"`
	ParentID   *int64  `json:"parent_id,omitempty"`
	IsFolder   bool    `json:"is_folder"`
	ExternalID string  `json:"rekordbox_id,omitempty"`
	TrackIDs   []int64 `json:"tracks"`
}

// Validate checks the name, folder membership and duplicate track IDs.
func (in PlaylistInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &shared.ValidationError{Field: "name", Reason: "is required"}
	}
	if in.IsFolder && len(in.TrackIDs) > 0 {
		return &shared.ValidationError{Field: "tracks", Reason: "folders cannot hold tracks"}
	}
	seen := make(map[int64]bool, len(in.TrackIDs))
	for _, id := range in.TrackIDs {
		if seen[id] {
			return &shared.ValidationError{Field: "tracks", Reason: "contains a duplicate track ID"}
		}
		seen[id] = true
	}
	return nil
}

// Tag is a globally unique, case-sensitive label.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TrackQuery selects a page of tracks. Search is a case-insensitive substring over title, artist, album and genre.
type TrackQuery struct {
	Offset int    `json:"skip"`
	Limit  int    `json:"limit"`
	Search string `json:"search,omitempty"`
}

// TrackPage is one page of a listing plus the total number of matching tracks.
type TrackPage struct {
	Tracks []Track `json:"tracks"`
	Total  int     `json:"total"`
	Offset int     `json:"skip"`
	Limit  int     `json:"limit"`
}

// Stats summarizes the catalog.
type Stats struct {
	Path      string `json:"database_path"`
	Tracks    int    `json:"track_count"`
	Playlists int    `json:"playlist_count"`
	Tags      int    `json:"tag_count"`
	SizeBytes int64  `json:"database_size_bytes"`
}

// ExtractedTrack is one normalized row of the external content table.
//
// ExternalID always equals ID; it is the reconciliation key.
type ExtractedTrack struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Genre      string  `json:"genre"`
	Duration   float64 `json:"duration"`
	FilePath   string  `json:"file_path"`
	BPM        float64 `json:"bpm"`
	Key        string  `json:"key"`
	ExternalID string  `json:"rekordbox_id"`
}

// Input converts the record into a catalog write.
func (t ExtractedTrack) Input() TrackInput {
	return TrackInput{
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		Genre:      t.Genre,
		Duration:   t.Duration,
		FilePath:   t.FilePath,
		BPM:        t.BPM,
		Key:        t.Key,
		ExternalID: t.ExternalID,
	}
}

// ExtractedPlaylist is one external playlist node; TrackIDs are external content IDs in play order.
type ExtractedPlaylist struct {
	ExternalID string   `json:"id"`
	Name       string   `json:"name"`
	ParentID   string   `json:"parent_id,omitempty"`
	IsFolder   bool     `json:"is_folder"`
	TrackIDs   []string `json:"tracks"`
}

// PlaylistExport is a catalog playlist with its tracks in play order.
type PlaylistExport struct {
	Playlist Playlist `json:"playlist"`
	Tracks   []Track  `json:"tracks"`
}
