package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

// TrackImportResult is the outcome of one track reconciliation.
type TrackImportResult struct {
	RunID     string             `json:"run_id"`
	Extracted int                `json:"extracted"`
	Inserted  int                `json:"inserted"`
	Updated   int                `json:"updated"`
	Skipped   int                `json:"skipped"`
	Strategy  rekordbox.Strategy `json:"strategy,omitempty"`
	Tier      string             `json:"tier,omitempty"`
}

// PlaylistImportResult is the outcome of one playlist reconciliation.
type PlaylistImportResult struct {
	RunID         string `json:"run_id"`
	Extracted     int    `json:"extracted"`
	Imported      int    `json:"imported"`
	Folders       int    `json:"folders"`
	TracksLinked  int    `json:"tracks_linked"`
	TracksDropped int    `json:"tracks_dropped"`
}

// EngineOpts configures [NewEngine].
type EngineOpts struct {
	Rekordbox rekordbox.Options // Strategy options for every adapter the engine opens
	Page      rekordbox.Page    // Optional bound on track extraction
	Logger    *log.Logger
}

// Engine imports external libraries into a catalog and exports catalog playlists.
//
// It holds no connection of its own: every operation acquires a [repositories.Session] for its duration, so one
// Engine may serve concurrent callers. Imports against the same catalog must still be serialized by the caller.
type Engine struct {
	catalog *repositories.Catalog
	opts    EngineOpts
	logger  *log.Logger
}

// NewEngine creates an Engine over catalog.
func NewEngine(catalog *repositories.Catalog, opts EngineOpts) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	if opts.Rekordbox.Logger == nil {
		opts.Rekordbox.Logger = logger
	}
	return &Engine{
		catalog: catalog,
		opts:    opts,
		logger:  shared.WithLogger(logger, "component", "engine"),
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// ReconcileTracks upserts records into the catalog in one transaction keyed on ExternalID.
//
// Records without an external ID are skipped. Any failure rolls the whole batch back and is returned as a
// [shared.TransactionError].
func (e *Engine) ReconcileTracks(
	ctx context.Context,
	s *repositories.Session,
	records []models.ExtractedTrack,
	progress chan<- ProgressUpdate,
) (*TrackImportResult, error) {
	result := &TrackImportResult{RunID: shared.GenerateID(), Extracted: len(records)}
	logger := shared.WithLogger(e.logger, "run_id", result.RunID)
	applied := 0

	fail := func(err error) (*TrackImportResult, error) {
		logger.Error("track reconciliation rolled back", "applied", applied, "attempted", len(records), "err", err)
		return nil, &shared.TransactionError{Op: "import tracks", Attempted: len(records), Applied: applied, Err: err}
	}

	batch, err := s.Begin(ctx)
	if err != nil {
		return fail(err)
	}
	defer batch.Rollback()

	index, err := batch.ExternalIndex(ctx)
	if err != nil {
		return fail(err)
	}

	for i, r := range records {
		externalID := strings.TrimSpace(r.ExternalID)
		if externalID == "" {
			result.Skipped++
			continue
		}

		in := r.Input()
		in.ExternalID = externalID

		if id, ok := index[externalID]; ok {
			if err := batch.UpdateTrack(ctx, id, in); err != nil {
				return fail(fmt.Errorf("record %s: %w", externalID, err))
			}
			result.Updated++
		} else {
			id, _, err := batch.AddTrack(ctx, in)
			if err != nil {
				return fail(fmt.Errorf("record %s: %w", externalID, err))
			}
			index[externalID] = id
			result.Inserted++
		}
		applied++
		e.sendProgress(progress, reconcileUpdate(i+1, len(records), r.Title))
	}

	e.sendProgress(progress, commitUpdate(applied))
	if err := batch.Commit(); err != nil {
		return fail(err)
	}

	logger.Info("reconciled tracks",
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	return result, nil
}

// ReconcilePlaylists writes playlists in the given order inside one transaction.
//
// Track references are remapped through the external-ID index; unknown and repeated references are dropped while
// the remaining order is preserved. A parent created earlier in the same batch is remapped to its local ID and any
// other parent makes the playlist top-level, so callers should pass parents before children.
func (e *Engine) ReconcilePlaylists(
	ctx context.Context,
	s *repositories.Session,
	playlists []models.ExtractedPlaylist,
	progress chan<- ProgressUpdate,
) (*PlaylistImportResult, error) {
	result := &PlaylistImportResult{RunID: shared.GenerateID(), Extracted: len(playlists)}
	logger := shared.WithLogger(e.logger, "run_id", result.RunID)

	fail := func(err error) (*PlaylistImportResult, error) {
		logger.Error("playlist reconciliation rolled back", "applied", result.Imported, "attempted", len(playlists), "err", err)
		return nil, &shared.TransactionError{Op: "import playlists", Attempted: len(playlists), Applied: result.Imported, Err: err}
	}

	batch, err := s.Begin(ctx)
	if err != nil {
		return fail(err)
	}
	defer batch.Rollback()

	index, err := batch.ExternalIndex(ctx)
	if err != nil {
		return fail(err)
	}

	local := make(map[string]int64, len(playlists))
	for i, p := range playlists {
		in := models.PlaylistInput{
			Name:       p.Name,
			IsFolder:   p.IsFolder,
			ExternalID: strings.TrimSpace(p.ExternalID),
		}
		if parent, ok := local[strings.TrimSpace(p.ParentID)]; ok {
			in.ParentID = &parent
		}
		if !p.IsFolder {
			var dropped int
			in.TrackIDs, dropped = remapTracks(p.TrackIDs, index)
			result.TracksDropped += dropped
		}

		id, err := batch.AddPlaylist(ctx, in)
		if err != nil {
			return fail(fmt.Errorf("playlist %q: %w", p.Name, err))
		}
		if in.ExternalID != "" {
			local[in.ExternalID] = id
		}

		result.Imported++
		result.TracksLinked += len(in.TrackIDs)
		if p.IsFolder {
			result.Folders++
		}
		e.sendProgress(progress, reconcileUpdate(i+1, len(playlists), p.Name))
	}

	e.sendProgress(progress, commitUpdate(result.Imported))
	if err := batch.Commit(); err != nil {
		return fail(err)
	}

	logger.Info("reconciled playlists",
		"imported", result.Imported,
		"folders", result.Folders,
		"tracks_linked", result.TracksLinked,
		"tracks_dropped", result.TracksDropped,
	)
	return result, nil
}

// ImportTracks extracts every track from src and reconciles it into the catalog.
//
// The adapter is closed before the catalog session opens. An empty extraction returns [shared.ErrNoTracks] joined
// with the extraction report's tier failures.
func (e *Engine) ImportTracks(ctx context.Context, src rekordbox.Source, progress chan<- ProgressUpdate) (*TrackImportResult, error) {
	adapter, err := e.open(ctx, src, progress)
	if err != nil {
		return nil, err
	}
	defer adapter.Close()

	e.sendProgress(progress, extractingUpdate("tracks"))
	records, err := adapter.ExtractTracks(ctx, e.opts.Page)
	if err != nil {
		return nil, fmt.Errorf("failed to extract tracks: %w", err)
	}
	report := adapter.Report()
	if len(records) == 0 {
		return nil, errors.Join(shared.ErrNoTracks, report.Err())
	}
	e.sendProgress(progress, extractedUpdate("tracks", len(records)))

	if err := adapter.Close(); err != nil {
		e.logger.Warn("failed to close external database", "err", err)
	}

	s, err := e.catalog.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	result, err := e.ReconcileTracks(ctx, s, records, progress)
	if err != nil {
		return nil, err
	}
	result.Strategy, result.Tier = report.Strategy, report.Tier
	return result, nil
}

// ImportPlaylists extracts the playlist tree from src and reconciles it into the catalog.
//
// Tracks must have been imported first; references to unknown tracks are dropped.
func (e *Engine) ImportPlaylists(ctx context.Context, src rekordbox.Source, progress chan<- ProgressUpdate) (*PlaylistImportResult, error) {
	adapter, err := e.open(ctx, src, progress)
	if err != nil {
		return nil, err
	}
	defer adapter.Close()

	e.sendProgress(progress, extractingUpdate("playlists"))
	playlists, err := adapter.ExtractPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract playlists: %w", err)
	}
	e.sendProgress(progress, extractedUpdate("playlists", len(playlists)))

	if err := adapter.Close(); err != nil {
		e.logger.Warn("failed to close external database", "err", err)
	}

	s, err := e.catalog.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return e.ReconcilePlaylists(ctx, s, playlists, progress)
}

func (e *Engine) open(ctx context.Context, src rekordbox.Source, progress chan<- ProgressUpdate) (*rekordbox.Adapter, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	e.sendProgress(progress, connectUpdate(src.Path))
	adapter, err := rekordbox.Open(ctx, src, e.opts.Rekordbox)
	if err != nil {
		return nil, err
	}
	e.sendProgress(progress, connectedUpdate(string(adapter.Strategy())))
	return adapter, nil
}

// remapTracks resolves external IDs to local IDs, keeping first occurrences in order.
func remapTracks(externalIDs []string, index map[string]int64) ([]int64, int) {
	ids := make([]int64, 0, len(externalIDs))
	seen := make(map[int64]bool, len(externalIDs))
	dropped := 0
	for _, ext := range externalIDs {
		id, ok := index[strings.TrimSpace(ext)]
		if !ok || seen[id] {
			dropped++
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, dropped
}
