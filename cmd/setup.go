package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the catalog and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer catalog.Close()

	statuses, err := shared.Migrations(ctx, catalog.DB())
	if err != nil {
		return err
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	r.writePlain("%s\n", r.palette.OK("Catalog ready: "+r.config.Database.Path))
	r.writePlain("Schema version: %d\n", latestApplied(statuses))
	return nil
}

// SetupConfig writes the configuration template.
//
// It refuses to overwrite an existing file.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if path == "" {
		path = cmd.String("config")
	}
	if path == "" {
		return fmt.Errorf("%w: --output", shared.ErrMissingArgument)
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlain("%s\n", r.palette.OK("Config written to "+path))
	r.writePlainln("Next steps:")
	r.writePlain("1. Set rekordbox.path and rekordbox.key (or CRATE_REKORDBOX_PATH / CRATE_REKORDBOX_KEY)\n")
	r.writePlain("2. Run 'crate setup database' then 'crate rekordbox import'\n")
	return nil
}

func latestApplied(statuses []shared.MigrationStatus) int {
	latest := -1
	for _, s := range statuses {
		if s.Applied && s.Version > latest {
			latest = s.Version
		}
	}
	return latest
}
