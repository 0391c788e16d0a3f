package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	trackColumns = "id, title, artist, album, genre, duration, file_path, bpm, musical_key, energy, external_id, created_at, updated_at"

	maxPageSize     = 1000
	defaultPageSize = 100
)

// scanner is the shared surface of [sql.Row] and [sql.Rows].
type scanner interface {
	Scan(dest ...any) error
}

// AddTrack inserts a track, or updates the existing row when its external ID is already cataloged.
func (s *Session) AddTrack(ctx context.Context, in models.TrackInput) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, _, err = upsertTrack(ctx, tx, in, now())
		return err
	})
	return id, err
}

// UpdateTrack overwrites every caller-settable field of track id and refreshes updated_at.
//
// An empty ExternalID leaves the stored one in place. Returns [shared.ErrNotFound] when no row matched.
func (s *Session) UpdateTrack(ctx context.Context, id int64, in models.TrackInput) (int64, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return updateTrack(ctx, tx, id, in, now())
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetTrack returns the track with its tags, or nil when it does not exist.
func (s *Session) GetTrack(ctx context.Context, id int64) (*models.Track, error) {
	return getTrack(ctx, s.conn, id)
}

// ListTracks returns one page of tracks ordered by ID plus the number of tracks matching the search.
//
// Limit is clamped to 1..1000 (0 means 100) and a negative offset is treated as 0.
func (s *Session) ListTracks(ctx context.Context, q models.TrackQuery) (*models.TrackPage, error) {
	return listTracks(ctx, s.conn, q)
}

// DeleteTrack removes a track after its tag and playlist memberships.
//
// Playlists that held the track are renumbered so positions stay gapless.
func (s *Session) DeleteTrack(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteTrack(ctx, tx, id)
	})
}

func externalIndex(ctx context.Context, q querier) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, "SELECT external_id, id FROM tracks WHERE external_id IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to query external IDs: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int64)
	for rows.Next() {
		var (
			ext string
			id  int64
		)
		if err := rows.Scan(&ext, &id); err != nil {
			return nil, fmt.Errorf("failed to scan external ID: %w", err)
		}
		index[ext] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return index, nil
}

func upsertTrack(ctx context.Context, q querier, in models.TrackInput, ts string) (int64, bool, error) {
	if err := in.Validate(); err != nil {
		return 0, false, err
	}

	if in.ExternalID != "" {
		var id int64
		err := q.QueryRowContext(ctx, "SELECT id FROM tracks WHERE external_id = ?", in.ExternalID).Scan(&id)
		switch {
		case err == nil:
			return id, false, updateTrack(ctx, q, id, in, ts)
		case !errors.Is(err, sql.ErrNoRows):
			return 0, false, fmt.Errorf("failed to look up external ID %s: %w", in.ExternalID, err)
		}
	}

	query := `
		INSERT INTO tracks (title, artist, album, genre, duration, file_path, bpm, musical_key, energy, external_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := q.ExecContext(ctx, query,
		in.Title, in.Artist, in.Album, in.Genre, in.Duration, in.FilePath, in.BPM, in.Key,
		nullFloat(in.Energy), nullString(in.ExternalID), ts, ts,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert track: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read inserted track ID: %w", err)
	}
	return id, true, nil
}

func updateTrack(ctx context.Context, q querier, id int64, in models.TrackInput, ts string) error {
	if err := in.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE tracks
		SET title = ?, artist = ?, album = ?, genre = ?, duration = ?, file_path = ?, bpm = ?, musical_key = ?,
			energy = ?, external_id = COALESCE(?, external_id), updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		in.Title, in.Artist, in.Album, in.Genre, in.Duration, in.FilePath, in.BPM, in.Key,
		nullFloat(in.Energy), nullString(in.ExternalID), ts, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("track %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func getTrack(ctx context.Context, q querier, id int64) (*models.Track, error) {
	row := q.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	track, err := scanOne(row)
	if err != nil || track == nil {
		return nil, err
	}

	tags, err := trackTags(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	track.Tags = tagsOrEmpty(tags[id])
	return track, nil
}

func listTracks(ctx context.Context, q querier, query models.TrackQuery) (*models.TrackPage, error) {
	limit, offset := clampPage(query.Limit, query.Offset)

	where, args := "", []any{}
	if term := strings.TrimSpace(query.Search); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		where = ` WHERE title LIKE ? ESCAPE '\' OR artist LIKE ? ESCAPE '\' OR album LIKE ? ESCAPE '\' OR genre LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern, pattern, pattern)
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count tracks: %w", err)
	}

	rows, err := q.QueryContext(ctx, "SELECT "+trackColumns+" FROM tracks"+where+" ORDER BY id LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}

	tracks := []models.Track{}
	ids := []int64{}
	for rows.Next() {
		track, err := scanRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tracks = append(tracks, *track)
		ids = append(ids, track.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	tags, err := trackTags(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range tracks {
		tracks[i].Tags = tagsOrEmpty(tags[tracks[i].ID])
	}

	return &models.TrackPage{Tracks: tracks, Total: total, Offset: offset, Limit: limit}, nil
}

func deleteTrack(ctx context.Context, q querier, id int64) error {
	rows, err := q.QueryContext(ctx, "SELECT playlist_id, position FROM playlist_tracks WHERE track_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to query track memberships: %w", err)
	}
	type membership struct{ playlist, position int64 }
	var held []membership
	for rows.Next() {
		var m membership
		if err := rows.Scan(&m.playlist, &m.position); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		held = append(held, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM track_tags WHERE track_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete track tags: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM playlist_tracks WHERE track_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete playlist memberships: %w", err)
	}
	for _, m := range held {
		_, err := q.ExecContext(ctx,
			"UPDATE playlist_tracks SET position = position - 1 WHERE playlist_id = ? AND position > ?",
			m.playlist, m.position,
		)
		if err != nil {
			return fmt.Errorf("failed to renumber playlist %d: %w", m.playlist, err)
		}
	}

	res, err := q.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("track %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// trackTags returns tag names per track ID, sorted by name.
func trackTags(ctx context.Context, q querier, ids []int64) (map[int64][]string, error) {
	tags := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return tags, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT tt.track_id, t.name
		FROM track_tags tt
		JOIN tags t ON t.id = tt.tag_id
		WHERE tt.track_id IN (` + placeholders + `)
		ORDER BY t.name
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query track tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			trackID int64
			name    string
		)
		if err := rows.Scan(&trackID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan track tag: %w", err)
		}
		tags[trackID] = append(tags[trackID], name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tags, nil
}

// scanOne scans a single [sql.Row], returning nil when it is empty.
func scanOne(row *sql.Row) (*models.Track, error) {
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return track, err
}

// scanRow scans the current row of [sql.Rows].
func scanRow(rows *sql.Rows) (*models.Track, error) {
	return scanTrack(rows)
}

func scanTrack(s scanner) (*models.Track, error) {
	var (
		t          models.Track
		energy     sql.NullFloat64
		externalID sql.NullString
	)

	err := s.Scan(&t.ID, &t.Title, &t.Artist, &t.Album, &t.Genre, &t.Duration, &t.FilePath, &t.BPM, &t.Key,
		&energy, &externalID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	if energy.Valid {
		t.Energy = &energy.Float64
	}
	t.ExternalID = externalID.String
	return &t, nil
}

func clampPage(limit, offset int) (int, int) {
	switch {
	case limit == 0:
		limit = defaultPageSize
	case limit < 1:
		limit = 1
	case limit > maxPageSize:
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
