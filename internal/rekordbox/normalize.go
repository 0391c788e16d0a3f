package rekordbox

import (
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/models"
)

// Placeholders for values the source did not resolve.
const (
	UnknownArtist = "Unknown Artist"
	UnknownGenre  = "Unknown Genre"
	UnknownAlbum  = "Unknown Album"
	UnknownKey    = "Unknown"

	artistTitleSeparator = " - "
)

// RawTrack is one content row before normalization. Empty names mean the lookup missed.
type RawTrack struct {
	ID         string
	Title      string
	Length     float64
	BPM        float64
	FolderPath string
	Key        string
	Genre      string
	Artist     string
}

// NormalizeDuration converts a raw Length value to seconds.
//
// The source unit is undocumented. Values below 1000 are taken as seconds and anything larger as
// milliseconds; this is a best-effort guess and is kept exactly as is.
func NormalizeDuration(raw float64) float64 {
	switch {
	case raw <= 0:
		return 0
	case raw < 1000:
		return raw
	default:
		return raw / 1000
	}
}

// ScaleBPM converts the stored BPM x 100 integer to beats per minute. Corrupt negative values become 0.
func ScaleBPM(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / 100
}

// SplitArtistTitle recovers "Artist - Title" titles when no artist was resolved.
//
// It only applies when artist is [UnknownArtist]; a resolved artist is never overridden.
func SplitArtistTitle(artist, title string) (string, string) {
	if artist != UnknownArtist {
		return artist, title
	}
	left, right, ok := strings.Cut(title, artistTitleSeparator)
	if !ok {
		return artist, title
	}
	return strings.TrimSpace(left), strings.TrimSpace(right)
}

// Normalize maps a raw row to a catalog-shaped record. position is the 1-based row number used for
// placeholder titles. It never fails; missing values degrade to defaults.
func Normalize(raw RawTrack, position int) models.ExtractedTrack {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = fmt.Sprintf("Track %d", position)
	}

	artist := strings.TrimSpace(raw.Artist)
	if artist == "" {
		artist = UnknownArtist
	}
	artist, title = SplitArtistTitle(artist, title)

	genre := raw.Genre
	if genre == "" {
		genre = UnknownGenre
	}
	key := raw.Key
	if key == "" {
		key = UnknownKey
	}

	// A row without a primary key yields no external ID and is skipped by reconciliation.
	id := strings.TrimSpace(raw.ID)

	return models.ExtractedTrack{
		ID:         id,
		Title:      title,
		Artist:     artist,
		Album:      UnknownAlbum,
		Genre:      genre,
		Duration:   NormalizeDuration(raw.Length),
		FilePath:   raw.FolderPath,
		BPM:        ScaleBPM(raw.BPM),
		Key:        key,
		ExternalID: id,
	}
}

// normalizeAll numbers rows from offset+1 so placeholder titles stay stable across pages.
func normalizeAll(raws []RawTrack, offset int) []models.ExtractedTrack {
	tracks := make([]models.ExtractedTrack, len(raws))
	for i, raw := range raws {
		tracks[i] = Normalize(raw, offset+i+1)
	}
	return tracks
}
