package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// RekordboxConnect opens the library once, counts its tracks and closes it again.
func (r *Runner) RekordboxConnect(ctx context.Context, cmd *cli.Command) error {
	src, err := r.source(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("connecting to rekordbox", "path", src.Path, "key", shared.RedactKey(src.Key))
	probe, err := rekordbox.Probe(ctx, src, r.rekordboxOptions())
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(probe, true)
	}
	r.writePlain("%s\n", r.palette.OK("Connected to "+src.Path))
	r.writePlain("Strategy: %s\n", probe.Strategy)
	r.writePlain("Tracks:   %d\n", probe.Tracks)
	return nil
}

// RekordboxImport reconciles the library's tracks into the catalog.
func (r *Runner) RekordboxImport(ctx context.Context, cmd *cli.Command) error {
	src, err := r.source(cmd)
	if err != nil {
		return err
	}

	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer catalog.Close()

	page := rekordbox.Page{Limit: int(cmd.Int("limit")), Offset: int(cmd.Int("offset"))}
	engine := r.newEngine(catalog, page)

	asJSON := cmd.Bool("json")
	progress, wait := r.importProgress(asJSON)
	res, err := engine.ImportTracks(ctx, src, progress)
	wait()
	if err != nil {
		return err
	}
	if asJSON {
		return r.writeJSON(res, true)
	}

	r.writePlainln("%s", r.palette.OK(fmt.Sprintf("Imported %d tracks", res.Inserted+res.Updated)))
	r.writePlain("Run:      %s\n", res.RunID)
	r.writePlain("Strategy: %s (%s)\n", res.Strategy, res.Tier)
	r.writePlain("Added:    %d\n", res.Inserted)
	r.writePlain("Updated:  %d\n", res.Updated)
	if res.Skipped > 0 {
		r.writePlain("%s\n", r.palette.Warn(fmt.Sprintf("Skipped:  %d (no Rekordbox ID)", res.Skipped)))
	}
	return nil
}

// RekordboxImportPlaylists reconciles the library's playlists and folders into the catalog.
//
// Tracks should be imported first; memberships that point at unknown tracks are dropped.
func (r *Runner) RekordboxImportPlaylists(ctx context.Context, cmd *cli.Command) error {
	src, err := r.source(cmd)
	if err != nil {
		return err
	}

	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer catalog.Close()

	engine := r.newEngine(catalog, rekordbox.Page{})

	asJSON := cmd.Bool("json")
	progress, wait := r.importProgress(asJSON)
	res, err := engine.ImportPlaylists(ctx, src, progress)
	wait()
	if err != nil {
		return err
	}
	if asJSON {
		return r.writeJSON(res, true)
	}

	r.writePlainln("%s", r.palette.OK(fmt.Sprintf("Imported %d playlists", res.Imported)))
	r.writePlain("Run:     %s\n", res.RunID)
	r.writePlain("Folders: %d\n", res.Folders)
	r.writePlain("Tracks:  %d linked\n", res.TracksLinked)
	if res.TracksDropped > 0 {
		r.writePlain("%s\n", r.palette.Warn(fmt.Sprintf("Dropped: %d (not in catalog; run 'crate rekordbox import' first)", res.TracksDropped)))
	}
	return nil
}

// importProgress streams progress to the output unless it is reserved for JSON.
func (r *Runner) importProgress(quiet bool) (chan<- tasks.ProgressUpdate, func()) {
	if quiet {
		return nil, func() {}
	}
	return r.progress()
}
