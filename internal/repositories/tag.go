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

// AddTag returns the ID of the tag with exactly this name, creating it if needed.
func (s *Session) AddTag(ctx context.Context, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, &shared.ValidationError{Field: "name", Reason: "is required"}
	}

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up tag: %w", err)
		}

		res, err := tx.ExecContext(ctx, "INSERT INTO tags (name) VALUES (?)", name)
		if err != nil {
			return fmt.Errorf("failed to insert tag: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// AddTagToTrack links a tag to a track. Linking twice is a no-op.
func (s *Session) AddTagToTrack(ctx context.Context, trackID, tagID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var trackExists, tagExists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM tracks WHERE id = ?), EXISTS(SELECT 1 FROM tags WHERE id = ?)",
			trackID, tagID,
		).Scan(&trackExists, &tagExists)
		if err != nil {
			return fmt.Errorf("failed to check tag membership: %w", err)
		}
		if !trackExists {
			return fmt.Errorf("track %d: %w", trackID, shared.ErrNotFound)
		}
		if !tagExists {
			return fmt.Errorf("tag %d: %w", tagID, shared.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO track_tags (track_id, tag_id) VALUES (?, ?)", trackID, tagID); err != nil {
			return fmt.Errorf("failed to tag track: %w", err)
		}
		return nil
	})
}

// ListTags returns every tag ordered by name.
func (s *Session) ListTags(ctx context.Context) ([]models.Tag, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id, name FROM tags ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tags, nil
}
