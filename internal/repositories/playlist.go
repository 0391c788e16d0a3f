package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const playlistColumns = "id, name, parent_id, is_folder, external_id, created_at, updated_at"

// AddPlaylist stores a playlist and its ordered membership.
//
// When the input carries an external ID that is already cataloged, that playlist is updated and its membership
// replaced instead.
func (s *Session) AddPlaylist(ctx context.Context, in models.PlaylistInput) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = upsertPlaylist(ctx, tx, in, now())
		return err
	})
	return id, err
}

// ListPlaylists returns every playlist ordered by name, each with its ordered track IDs.
func (s *Session) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	return listPlaylists(ctx, s.conn)
}

// GetPlaylist returns one playlist, or nil when it does not exist.
func (s *Session) GetPlaylist(ctx context.Context, id int64) (*models.Playlist, error) {
	return getPlaylist(ctx, s.conn, id)
}

// DeletePlaylist removes a playlist and its membership. Child nodes move up to the deleted node's parent.
func (s *Session) DeletePlaylist(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deletePlaylist(ctx, tx, id)
	})
}

// PlaylistTracks returns the tracks of a playlist in position order.
func (s *Session) PlaylistTracks(ctx context.Context, id int64) ([]models.Track, error) {
	return playlistTracks(ctx, s.conn, id)
}

func upsertPlaylist(ctx context.Context, q querier, in models.PlaylistInput, ts string) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	if in.ParentID != nil {
		var exists bool
		err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM playlists WHERE id = ?)", *in.ParentID).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("failed to check parent playlist: %w", err)
		}
		if !exists {
			return 0, &shared.ValidationError{Field: "parent_id", Reason: fmt.Sprintf("playlist %d does not exist", *in.ParentID)}
		}
	}

	var id int64
	existing := false
	if in.ExternalID != "" {
		err := q.QueryRowContext(ctx, "SELECT id FROM playlists WHERE external_id = ?", in.ExternalID).Scan(&id)
		switch {
		case err == nil:
			existing = true
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("failed to look up playlist %s: %w", in.ExternalID, err)
		}
	}

	if existing {
		if in.ParentID != nil && *in.ParentID == id {
			return 0, &shared.ValidationError{Field: "parent_id", Reason: "cannot reference itself"}
		}
		_, err := q.ExecContext(ctx,
			"UPDATE playlists SET name = ?, parent_id = ?, is_folder = ?, updated_at = ? WHERE id = ?",
			in.Name, in.ParentID, in.IsFolder, ts, id,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to update playlist: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM playlist_tracks WHERE playlist_id = ?", id); err != nil {
			return 0, fmt.Errorf("failed to clear playlist tracks: %w", err)
		}
	} else {
		res, err := q.ExecContext(ctx,
			"INSERT INTO playlists (name, parent_id, is_folder, external_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			in.Name, in.ParentID, in.IsFolder, nullString(in.ExternalID), ts, ts,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert playlist: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to read inserted playlist ID: %w", err)
		}
	}

	for position, trackID := range in.TrackIDs {
		res, err := q.ExecContext(ctx,
			"INSERT INTO playlist_tracks (playlist_id, track_id, position) SELECT ?, id, ? FROM tracks WHERE id = ?",
			id, position, trackID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to add track %d to playlist: %w", trackID, err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, &shared.ValidationError{Field: "tracks", Reason: fmt.Sprintf("track %d does not exist", trackID)}
		}
	}

	return id, nil
}

func listPlaylists(ctx context.Context, q querier) ([]models.Playlist, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+playlistColumns+" FROM playlists ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}

	playlists := []models.Playlist{}
	byID := make(map[int64]int)
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		byID[p.ID] = len(playlists)
		playlists = append(playlists, *p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	members, err := q.QueryContext(ctx, "SELECT playlist_id, track_id FROM playlist_tracks ORDER BY playlist_id, position")
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	defer members.Close()

	for members.Next() {
		var playlistID, trackID int64
		if err := members.Scan(&playlistID, &trackID); err != nil {
			return nil, fmt.Errorf("failed to scan playlist track: %w", err)
		}
		if i, ok := byID[playlistID]; ok {
			playlists[i].TrackIDs = append(playlists[i].TrackIDs, trackID)
		}
	}
	if err := members.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	for i := range playlists {
		playlists[i].TrackCount = len(playlists[i].TrackIDs)
	}
	return playlists, nil
}

func getPlaylist(ctx context.Context, q querier, id int64) (*models.Playlist, error) {
	p, err := scanPlaylist(q.QueryRowContext(ctx, "SELECT "+playlistColumns+" FROM playlists WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT track_id FROM playlist_tracks WHERE playlist_id = ? ORDER BY position", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackID int64
		if err := rows.Scan(&trackID); err != nil {
			return nil, fmt.Errorf("failed to scan playlist track: %w", err)
		}
		p.TrackIDs = append(p.TrackIDs, trackID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	p.TrackCount = len(p.TrackIDs)
	return p, nil
}

func deletePlaylist(ctx context.Context, q querier, id int64) error {
	var parent sql.NullInt64
	err := q.QueryRowContext(ctx, "SELECT parent_id FROM playlists WHERE id = ?", id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("playlist %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load playlist: %w", err)
	}

	if _, err := q.ExecContext(ctx, "UPDATE playlists SET parent_id = ? WHERE parent_id = ?", parent, id); err != nil {
		return fmt.Errorf("failed to reparent child playlists: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM playlist_tracks WHERE playlist_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete playlist tracks: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM playlists WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	return nil
}

func playlistTracks(ctx context.Context, q querier, id int64) ([]models.Track, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM playlists WHERE id = ?)", id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check playlist: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("playlist %d: %w", id, shared.ErrNotFound)
	}

	query := `
		SELECT t.id, t.title, t.artist, t.album, t.genre, t.duration, t.file_path, t.bpm, t.musical_key, t.energy,
			t.external_id, t.created_at, t.updated_at
		FROM playlist_tracks pt
		JOIN tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ?
		ORDER BY pt.position
	`
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
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
	return tracks, nil
}

func scanPlaylist(s scanner) (*models.Playlist, error) {
	var (
		p          models.Playlist
		parent     sql.NullInt64
		externalID sql.NullString
	)

	err := s.Scan(&p.ID, &p.Name, &parent, &p.IsFolder, &externalID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	if parent.Valid {
		p.ParentID = &parent.Int64
	}
	p.ExternalID = externalID.String
	p.TrackIDs = []int64{}
	return &p, nil
}
