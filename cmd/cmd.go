// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-path",
			Aliases: []string{"p"},
			Usage:   "Path to the Rekordbox master.db (default: rekordbox.path)",
		},
		&cli.StringFlag{
			Name:    "key",
			Aliases: []string{"k"},
			Usage:   "64 character hex encryption key (default: rekordbox.key)",
		},
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// setupCommand handles setup operations for the database and configuration file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize the catalog and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a config.toml template",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the template (default: the --config path)",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// rekordboxCommand handles connecting to and importing from a Rekordbox library
func rekordboxCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "rekordbox",
		Aliases: []string{"rb"},
		Usage:   "Rekordbox library operations",
		Commands: []*cli.Command{
			{
				Name:   "connect",
				Usage:  "Check that the library opens and count its tracks",
				Flags:  append(sourceFlags(), jsonFlag()),
				Action: r.RekordboxConnect,
			},
			{
				Name:  "import",
				Usage: "Import tracks into the catalog",
				Flags: append(sourceFlags(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Import at most this many tracks (0 imports all)",
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Skip this many tracks in content ID order",
					},
					jsonFlag(),
				),
				Action: r.RekordboxImport,
			},
			{
				Name:   "import-playlists",
				Usage:  "Import playlists and folders into the catalog",
				Flags:  append(sourceFlags(), jsonFlag()),
				Action: r.RekordboxImportPlaylists,
			},
		},
	}
}

// tracksCommand handles catalog track operations
func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tracks",
		Usage: "Catalog track operations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tracks, optionally filtered by a search term",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "search",
						Aliases: []string{"s"},
						Usage:   "Case-insensitive match on title, artist, album or genre",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of tracks to return",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "skip",
						Usage: "Number of tracks to skip",
					},
					jsonFlag(),
				},
				Action: r.TracksList,
			},
			{
				Name:      "get",
				Usage:     "Show one track",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.TracksGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete a track and remove it from every playlist",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.TracksDelete,
			},
		},
	}
}

// playlistsCommand handles catalog playlist operations
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlists",
		Usage: "Catalog playlist operations",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List playlists and folders",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.PlaylistsList,
			},
			{
				Name:  "export",
				Usage: "Export playlists to files",
				Flags: []cli.Flag{
					&cli.Int64SliceFlag{
						Name:  "id",
						Usage: "Playlist ID to export (repeatable; default: every playlist)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: json, csv, markdown, txt, m3u (default: export.format)",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory (default: export.output_dir)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent export workers (default: export.workers)",
					},
				},
				Action: r.PlaylistsExport,
			},
		},
	}
}

// tagsCommand handles tag operations
func tagsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tags",
		Usage: "Tag operations",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a tag, or print the existing one",
				Arguments: []cli.Argument{&cli.StringArg{Name: "name"}},
				Action:    r.TagsAdd,
			},
			{
				Name:   "list",
				Usage:  "List every tag",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.TagsList,
			},
			{
				Name:  "attach",
				Usage: "Tag a track",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "track"},
					&cli.StringArg{Name: "name"},
				},
				Action: r.TagsAttach,
			},
		},
	}
}

// dbCommand handles catalog maintenance
func dbCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Catalog maintenance",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show catalog counts and size",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.DBStats,
			},
			{
				Name:   "vacuum",
				Usage:  "Compact the catalog file",
				Action: r.DBVacuum,
			},
			{
				Name:   "check",
				Usage:  "Verify catalog integrity",
				Action: r.DBCheck,
			},
			{
				Name:   "migrations",
				Usage:  "List schema migrations and whether they are applied",
				Action: r.DBMigrations,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the newest applied migration",
				Action: r.DBRollback,
			},
		},
	}
}

// serveCommand starts the HTTP API
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the catalog HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (default: server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (default: server.port)",
			},
		},
		Action: r.Serve,
	}
}
