package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

// Version is the CLI release reported by --version.
const Version = "0.1.0"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	palette    *ui.Palette
	binding    rekordbox.Binding
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Palette    *ui.Palette
	Binding    rekordbox.Binding // Overrides [shared.RekordboxConfig.PreferBinding] when set
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Palette == nil {
		opts.Palette = ui.Default
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		palette:    opts.Palette,
		binding:    opts.Binding,
	}
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "crate",
		Usage:   "Import a Rekordbox library into a local catalog and manage it",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Before:   r.before,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, rekordboxCommand, tracksCommand, playlistsCommand, tagsCommand, dbCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads configuration and sets the log level ahead of every command.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := r.loadConfig(cmd.String("config")); err != nil {
		return ctx, err
	}

	level := shared.ParseLogLevel(r.config.Log.Level)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)
	return ctx, nil
}

// loadConfig reads path when it exists, keeping the current config otherwise, then applies
// environment overrides.
func (r *Runner) loadConfig(path string) error {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			config, err := shared.LoadConfig(path)
			if err != nil {
				return err
			}
			r.config = config
			r.configPath = path
		} else {
			r.logger.Debug("config file not found, using defaults", "path", path)
		}
	}

	r.config.ApplyEnv()
	return r.config.Validate()
}

// openCatalog opens the configured catalog, applying pending migrations.
func (r *Runner) openCatalog(ctx context.Context) (*repositories.Catalog, error) {
	db := r.config.Database
	r.logger.Debug("opening catalog", "path", db.Path)
	return repositories.OpenCatalog(ctx, db.Path, repositories.CatalogOpts{
		MaxOpenConns:  db.MaxOpenConns,
		MaxIdleConns:  db.MaxIdleConns,
		BusyTimeoutMS: db.BusyTimeoutMS,
		Logger:        r.logger,
	})
}

// withSession opens the catalog and one session for the duration of fn.
func (r *Runner) withSession(ctx context.Context, fn func(*repositories.Session) error) error {
	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer catalog.Close()

	s, err := catalog.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(s)
}

func (r *Runner) rekordboxOptions() rekordbox.Options {
	opts := rekordbox.Options{
		Binding: r.binding,
		TempDir: r.config.Rekordbox.TempDir,
		Logger:  r.logger,
	}
	if opts.Binding == nil && r.config.Rekordbox.PreferBinding {
		opts.Binding = rekordbox.PlainBinding{}
	}
	return opts
}

func (r *Runner) newEngine(catalog *repositories.Catalog, page rekordbox.Page) *tasks.Engine {
	return tasks.NewEngine(catalog, tasks.EngineOpts{
		Rekordbox: r.rekordboxOptions(),
		Page:      page,
		Logger:    r.logger,
	})
}

// source resolves the external database from flags, falling back to config and environment.
func (r *Runner) source(cmd *cli.Command) (rekordbox.Source, error) {
	src := rekordbox.Source{Path: r.config.Rekordbox.Path, Key: r.config.Rekordbox.Key}
	if v := cmd.String("db-path"); v != "" {
		src.Path = v
	}
	if v := cmd.String("key"); v != "" {
		src.Key = v
	}

	if src.Path == "" {
		return src, fmt.Errorf("%w: --db-path or rekordbox.path", shared.ErrMissingArgument)
	}
	if src.Key == "" {
		return src, fmt.Errorf("%w: --key or rekordbox.key", shared.ErrMissingArgument)
	}
	return src, nil
}

// progress returns a channel whose updates are written as they arrive, and a function that closes
// it and waits for the writer to drain.
func (r *Runner) progress() (chan<- tasks.ProgressUpdate, func()) {
	ch := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range ch {
			switch update.Phase {
			case tasks.Connect, tasks.Extract:
				r.writePlain("%s\n", update.Message)
			case tasks.Reconcile:
				if update.Total > 0 && (update.Step == update.Total || update.Step%100 == 0) {
					r.writePlain("   %d/%d reconciled\n", update.Step, update.Total)
				}
			case tasks.Commit, tasks.ExportPlaylist:
				r.writePlain("%s\n", update.Message)
			}
		}
	}()
	return ch, func() {
		close(ch)
		<-done
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("%s", r.palette.Header(title))
}
