package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// TracksList prints one page of catalog tracks.
func (r *Runner) TracksList(ctx context.Context, cmd *cli.Command) error {
	query := models.TrackQuery{
		Search: cmd.String("search"),
		Limit:  int(cmd.Int("limit")),
		Offset: int(cmd.Int("skip")),
	}

	return r.withSession(ctx, func(s *repositories.Session) error {
		page, err := s.ListTracks(ctx, query)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(page, true)
		}

		r.writePlainHeader(fmt.Sprintf("Tracks %d-%d of %d", min(page.Offset+1, page.Total), page.Offset+len(page.Tracks), page.Total))
		for _, t := range page.Tracks {
			r.writePlain("%6d  %s - %s  %s  %s\n", t.ID, t.Artist, t.Title, shared.FormatDuration(t.Duration), formatBPM(t.BPM))
		}
		if len(page.Tracks) == 0 {
			r.writePlain("%s\n", r.palette.Help("No tracks. Run 'crate rekordbox import' to fill the catalog."))
		}
		return nil
	})
}

// TracksGet prints one track.
func (r *Runner) TracksGet(ctx context.Context, cmd *cli.Command) error {
	id, err := parseID(cmd.StringArg("id"), "id")
	if err != nil {
		return err
	}

	return r.withSession(ctx, func(s *repositories.Session) error {
		track, err := s.GetTrack(ctx, id)
		if err != nil {
			return err
		}
		if track == nil {
			return fmt.Errorf("track %d: %w", id, shared.ErrNotFound)
		}
		if cmd.Bool("json") {
			return r.writeJSON(track, true)
		}

		r.writePlainHeader(track.Title)
		r.writePlain("Artist:   %s\n", track.Artist)
		r.writePlain("Album:    %s\n", track.Album)
		r.writePlain("Genre:    %s\n", track.Genre)
		r.writePlain("Key:      %s\n", track.Key)
		r.writePlain("BPM:      %s\n", formatBPM(track.BPM))
		r.writePlain("Length:   %s\n", shared.FormatDuration(track.Duration))
		r.writePlain("File:     %s\n", track.FilePath)
		if track.ExternalID != "" {
			r.writePlain("Rekordbox ID: %s\n", track.ExternalID)
		}
		if len(track.Tags) > 0 {
			r.writePlain("Tags:     %s\n", strings.Join(track.Tags, ", "))
		}
		return nil
	})
}

// TracksDelete removes a track from the catalog and every playlist holding it.
func (r *Runner) TracksDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := parseID(cmd.StringArg("id"), "id")
	if err != nil {
		return err
	}

	return r.withSession(ctx, func(s *repositories.Session) error {
		if err := s.DeleteTrack(ctx, id); err != nil {
			return err
		}
		r.logger.Info("deleted track", "id", id)
		r.writePlain("%s\n", r.palette.OK(fmt.Sprintf("Deleted track %d", id)))
		return nil
	})
}

// PlaylistsList prints playlists as a tree under their folders.
func (r *Runner) PlaylistsList(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, func(s *repositories.Session) error {
		playlists, err := s.ListPlaylists(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(playlists, true)
		}

		r.writePlainHeader(fmt.Sprintf("Playlists (%d)", len(playlists)))
		children := make(map[int64][]models.Playlist)
		var roots []models.Playlist
		known := make(map[int64]bool, len(playlists))
		for _, p := range playlists {
			known[p.ID] = true
		}
		for _, p := range playlists {
			if p.ParentID != nil && known[*p.ParentID] {
				children[*p.ParentID] = append(children[*p.ParentID], p)
				continue
			}
			roots = append(roots, p)
		}

		var walk func(p models.Playlist, depth int)
		walk = func(p models.Playlist, depth int) {
			indent := strings.Repeat("  ", depth)
			if p.IsFolder {
				r.writePlain("%s%s/\n", indent, r.palette.Title(p.Name))
			} else {
				r.writePlain("%s%s  %s\n", indent, p.Name, r.palette.Help(fmt.Sprintf("#%d, %d tracks", p.ID, p.TrackCount)))
			}
			for _, c := range children[p.ID] {
				walk(c, depth+1)
			}
		}
		for _, p := range roots {
			walk(p, 0)
		}
		return nil
	})
}

// PlaylistsExport writes playlists to files with the export worker pool.
func (r *Runner) PlaylistsExport(ctx context.Context, cmd *cli.Command) error {
	opts := tasks.ExportOpts{
		Format:     r.config.Export.Format,
		OutputDir:  r.config.Export.OutputDir,
		NumWorkers: r.config.Export.Workers,
	}
	if v := cmd.String("format"); v != "" {
		opts.Format = v
	}
	if v := cmd.String("output"); v != "" {
		opts.OutputDir = v
	}
	if v := int(cmd.Int("workers")); v > 0 {
		opts.NumWorkers = v
	}

	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer catalog.Close()

	engine := r.newEngine(catalog, rekordbox.Page{})
	progress, wait := r.progress()
	result, err := engine.ExportPlaylists(ctx, progress, cmd.Int64Slice("id"), opts)
	wait()
	if err != nil {
		return err
	}

	r.writePlainln("%s", r.palette.OK(fmt.Sprintf("Exported %d of %d playlists to %s", result.SuccessfulExports, result.TotalPlaylists, result.OutputDirectory)))
	if result.FailedExports > 0 {
		r.writePlain("%s\n", r.palette.Warn(fmt.Sprintf("%d failed:", result.FailedExports)))
		for _, entry := range result.Results {
			if !entry.Success {
				r.writePlain("   %s: %v\n", entry.PlaylistName, entry.Error)
			}
		}
	}
	r.writePlain("Manifest: %s\n", result.ManifestPath)
	return nil
}

// TagsAdd creates a tag by name, returning the existing one when present.
func (r *Runner) TagsAdd(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: tag name", shared.ErrMissingArgument)
	}

	return r.withSession(ctx, func(s *repositories.Session) error {
		id, err := s.AddTag(ctx, name)
		if err != nil {
			return err
		}
		r.writePlain("%s\n", r.palette.OK(fmt.Sprintf("Tag %q (#%d)", name, id)))
		return nil
	})
}

// TagsList prints every tag.
func (r *Runner) TagsList(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, func(s *repositories.Session) error {
		tags, err := s.ListTags(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(tags, true)
		}

		r.writePlainHeader(fmt.Sprintf("Tags (%d)", len(tags)))
		for _, t := range tags {
			r.writePlain("%6d  %s\n", t.ID, t.Name)
		}
		return nil
	})
}

// TagsAttach tags a track, creating the tag when needed.
func (r *Runner) TagsAttach(ctx context.Context, cmd *cli.Command) error {
	trackID, err := parseID(cmd.StringArg("track"), "track")
	if err != nil {
		return err
	}
	name := cmd.StringArg("name")
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: tag name", shared.ErrMissingArgument)
	}

	return r.withSession(ctx, func(s *repositories.Session) error {
		track, err := s.GetTrack(ctx, trackID)
		if err != nil {
			return err
		}
		if track == nil {
			return fmt.Errorf("track %d: %w", trackID, shared.ErrNotFound)
		}

		tagID, err := s.AddTag(ctx, name)
		if err != nil {
			return err
		}
		if err := s.AddTagToTrack(ctx, trackID, tagID); err != nil {
			return err
		}
		r.writePlain("%s\n", r.palette.OK(fmt.Sprintf("Tagged track %d with %q", trackID, name)))
		return nil
	})
}

func parseID(raw, name string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("%w: %s", shared.ErrMissingArgument, name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", shared.ErrInvalidArgument, name, raw)
	}
	return id, nil
}

func formatBPM(bpm float64) string {
	if bpm <= 0 {
		return "-"
	}
	return strconv.FormatFloat(bpm, 'f', -1, 64) + " BPM"
}
