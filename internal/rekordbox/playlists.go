package rekordbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// folderAttribute marks a djmdPlaylist row as a folder node.
const folderAttribute = 1

// ExtractPlaylists returns playlist nodes parent-first, each with external track IDs in TrackNo order.
// A database without playlist tables yields an empty list.
func (a *Adapter) ExtractPlaylists(ctx context.Context) ([]models.ExtractedPlaylist, error) {
	if a.closed {
		return nil, shared.ErrNotConnected
	}

	var (
		playlists []models.ExtractedPlaylist
		err       error
	)
	if a.lib != nil {
		playlists, err = a.lib.Playlists(ctx)
	} else {
		playlists, err = readPlaylists(ctx, a.db)
	}
	if err != nil {
		return nil, err
	}

	a.logger.Info("extracted playlists", "count", len(playlists))
	return playlists, nil
}

func readPlaylists(ctx context.Context, db *sql.DB) ([]models.ExtractedPlaylist, error) {
	var tables int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('djmdPlaylist', 'djmdSongPlaylist')",
	).Scan(&tables)
	if err != nil {
		return nil, fmt.Errorf("failed to check playlist tables: %w", err)
	}
	if tables < 2 {
		return []models.ExtractedPlaylist{}, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT ID, Name, ParentID, Attribute FROM djmdPlaylist ORDER BY ID")
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}

	var nodes []models.ExtractedPlaylist
	index := make(map[string]int)
	for rows.Next() {
		var (
			id, name, parent sql.NullString
			attribute        sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &parent, &attribute); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		if !id.Valid || id.String == "" {
			continue
		}

		p := models.ExtractedPlaylist{
			ExternalID: id.String,
			Name:       strings.TrimSpace(name.String),
			ParentID:   parent.String,
			IsFolder:   attribute.Int64 == folderAttribute,
			TrackIDs:   []string{},
		}
		if p.Name == "" {
			p.Name = "Playlist " + p.ExternalID
		}
		index[p.ExternalID] = len(nodes)
		nodes = append(nodes, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	members, err := db.QueryContext(ctx, "SELECT PlaylistID, ContentID FROM djmdSongPlaylist ORDER BY PlaylistID, TrackNo")
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	defer members.Close()

	for members.Next() {
		var playlistID, contentID sql.NullString
		if err := members.Scan(&playlistID, &contentID); err != nil {
			return nil, fmt.Errorf("failed to scan playlist track: %w", err)
		}
		i, ok := index[playlistID.String]
		if !ok || !contentID.Valid || nodes[i].IsFolder {
			continue
		}
		nodes[i].TrackIDs = append(nodes[i].TrackIDs, contentID.String)
	}
	if err := members.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orderParentFirst(nodes), nil
}

// orderParentFirst sorts nodes breadth-first from the roots, keeping sibling order. Nodes whose
// parent is unknown are roots; nodes caught in a parent cycle are appended last as roots.
func orderParentFirst(nodes []models.ExtractedPlaylist) []models.ExtractedPlaylist {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ExternalID] = true
	}

	children := make(map[string][]int)
	var queue []int
	for i, n := range nodes {
		if n.ParentID == "" || n.ParentID == n.ExternalID || !known[n.ParentID] {
			nodes[i].ParentID = ""
			queue = append(queue, i)
			continue
		}
		children[n.ParentID] = append(children[n.ParentID], i)
	}

	ordered := make([]models.ExtractedPlaylist, 0, len(nodes))
	placed := make([]bool, len(nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		placed[i] = true
		ordered = append(ordered, nodes[i])
		queue = append(queue, children[nodes[i].ExternalID]...)
	}

	for i, n := range nodes {
		if !placed[i] {
			n.ParentID = ""
			ordered = append(ordered, n)
		}
	}
	return ordered
}
