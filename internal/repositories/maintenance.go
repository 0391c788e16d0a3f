package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// Stats counts catalog rows and reports the size on disk.
func (s *Session) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{Path: s.catalog.path}

	counts := []struct {
		table string
		dst   *int
	}{
		{"tracks", &stats.Tracks},
		{"playlists", &stats.Playlists},
		{"tags", &stats.Tags},
	}
	for _, c := range counts {
		if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	// WAL pages not yet checkpointed still occupy disk.
	stats.SizeBytes = shared.FileSize(s.catalog.path) + shared.FileSize(s.catalog.path+"-wal")
	return stats, nil
}

// Vacuum rebuilds the catalog file. It cannot run inside a transaction.
func (s *Session) Vacuum(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum catalog: %w", err)
	}
	s.catalog.logger.Info("catalog vacuumed", "path", s.catalog.path)
	return nil
}

// CheckIntegrity runs SQLite's integrity check plus the catalog's own invariants: unique
// external IDs, no dangling memberships and gapless playlist positions.
func (s *Session) CheckIntegrity(ctx context.Context) error {
	rows, err := s.conn.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan integrity check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read integrity check: %w", err)
	}

	checks := []struct {
		name  string
		query string
	}{
		{"duplicate external IDs", "SELECT COUNT(*) FROM (SELECT external_id FROM tracks WHERE external_id IS NOT NULL GROUP BY external_id HAVING COUNT(*) > 1)"},
		{"dangling track tags", "SELECT COUNT(*) FROM track_tags WHERE track_id NOT IN (SELECT id FROM tracks) OR tag_id NOT IN (SELECT id FROM tags)"},
		{"dangling playlist tracks", "SELECT COUNT(*) FROM playlist_tracks WHERE track_id NOT IN (SELECT id FROM tracks) OR playlist_id NOT IN (SELECT id FROM playlists)"},
		{"playlists with position gaps", "SELECT COUNT(*) FROM (SELECT playlist_id FROM playlist_tracks GROUP BY playlist_id HAVING MIN(position) != 0 OR MAX(position) != COUNT(*) - 1)"},
	}
	for _, c := range checks {
		var n int
		if err := s.conn.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return fmt.Errorf("failed to check %s: %w", c.name, err)
		}
		if n > 0 {
			problems = append(problems, fmt.Sprintf("%s: %d", c.name, n))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("catalog integrity check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
