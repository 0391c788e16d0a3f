package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// DBStats prints catalog counts and the size on disk.
func (r *Runner) DBStats(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, func(s *repositories.Session) error {
		stats, err := s.Stats(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(stats, true)
		}

		r.writePlainHeader("Catalog")
		r.writePlain("Path:      %s\n", stats.Path)
		r.writePlain("Tracks:    %d\n", stats.Tracks)
		r.writePlain("Playlists: %d\n", stats.Playlists)
		r.writePlain("Tags:      %d\n", stats.Tags)
		r.writePlain("Size:      %s\n", formatBytes(stats.SizeBytes))
		return nil
	})
}

// DBVacuum compacts the catalog file.
func (r *Runner) DBVacuum(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, func(s *repositories.Session) error {
		if err := s.Vacuum(ctx); err != nil {
			return err
		}
		r.writePlain("%s\n", r.palette.OK("Database optimized successfully"))
		return nil
	})
}

// DBCheck runs the integrity check.
func (r *Runner) DBCheck(ctx context.Context, cmd *cli.Command) error {
	return r.withSession(ctx, func(s *repositories.Session) error {
		if err := s.CheckIntegrity(ctx); err != nil {
			r.writePlain("%s\n", r.palette.Err("Integrity check failed"))
			return err
		}
		r.writePlain("%s\n", r.palette.OK("Catalog is consistent"))
		return nil
	})
}

// DBMigrations lists every known migration.
func (r *Runner) DBMigrations(ctx context.Context, cmd *cli.Command) error {
	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer catalog.Close()

	statuses, err := shared.Migrations(ctx, catalog.DB())
	if err != nil {
		return err
	}

	r.writePlainHeader("Migrations")
	for _, m := range statuses {
		state := r.palette.Warn("pending")
		if m.Applied {
			state = r.palette.OK("applied")
		}
		r.writePlain("%04d  %-24s %s\n", m.Version, m.Name, state)
	}
	return nil
}

// DBRollback reverts the newest migration.
//
// The catalog is opened without the usual migrate step so the rollback is not immediately undone.
func (r *Runner) DBRollback(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Database
	db, err := shared.NewDatabaseWithTimeout(cfg.Path, cfg.BusyTimeoutMS)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := shared.RollbackMigration(ctx, db); err != nil {
		return err
	}
	r.logger.Warn("rolled back newest migration", "path", cfg.Path)
	r.writePlain("%s\n", r.palette.OK("Rolled back newest migration"))
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
