package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/time/rate"
)

// ExportOpts contains configuration for bulk playlist exports.
type ExportOpts struct {
	Format     string  // Export format: json, csv, markdown, txt, m3u
	OutputDir  string  // Base output directory (default: crate_export_{epoch})
	NumWorkers int     // Concurrent workers (default: 5, max: 10)
	RateLimit  float64 // Playlists read per second (default: 20)
}

// PlaylistExportJob is one loaded playlist waiting for a worker.
type PlaylistExportJob struct {
	Export *models.PlaylistExport
}

// ExportPlaylists writes catalog playlists concurrently with rate limiting and progress tracking.
//
// A single producer reads each playlist through its own catalog session and hands it to a pool of workers that only
// touch the filesystem. An empty ids slice exports every playlist that is not a folder. Playlists that fail to load
// or write are recorded on the result; the manifest is written either way.
func (e *Engine) ExportPlaylists(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	ids []int64,
	opts ExportOpts,
) (*formatter.BulkExportResult, error) {
	if opts.Format == "" {
		opts.Format = "json"
	}
	if !slices.Contains(formatter.Formats, opts.Format) {
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, opts.Format)
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("crate_export_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 5
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20.0
	}

	session, err := e.catalog.Session(ctx)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		ids, err = exportableIDs(ctx, session)
		if err != nil {
			session.Close()
			return nil, err
		}
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &formatter.BulkExportResult{
		TotalPlaylists:  len(ids),
		OutputDirectory: opts.OutputDir,
		Results:         make([]formatter.ExportEntry, 0, len(ids)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan PlaylistExportJob, len(ids))
	results := make(chan formatter.ExportEntry, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go e.exportWorker(ctx, &wg, jobs, results, opts)
	}

	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		defer session.Close()
		defer close(jobs)

		for i, id := range ids {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := limiter.Wait(ctx); err != nil {
				return
			}

			export, err := loadExport(ctx, session, id)
			if err != nil {
				results <- formatter.ExportEntry{
					PlaylistID:   id,
					PlaylistName: fmt.Sprintf("Unknown (%d)", id),
					Error:        fmt.Errorf("failed to load playlist: %w", err),
				}
				continue
			}

			e.sendProgress(prog, exportingPlaylistUpdate(i+1, len(ids), export.Playlist.Name))
			jobs <- PlaylistExportJob{Export: export}
		}
	}()

	go func() {
		producer.Wait()
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			e.sendProgress(prog, exportCompletedUpdate(completed, len(ids), res.PlaylistName, len(res.Files)))
		} else {
			result.FailedExports++
			e.sendProgress(prog, exportFailedUpdate(completed, len(ids), res.PlaylistName, res.Error))
		}
	}

	order := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, ok := order[id]; !ok {
			order[id] = i
		}
	}
	slices.SortStableFunc(result.Results, func(a, b formatter.ExportEntry) int {
		return order[a.PlaylistID] - order[b.PlaylistID]
	})

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteBulkExportManifest(result, opts.Format, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath

	e.logger.Info("exported playlists",
		"format", opts.Format,
		"successful", result.SuccessfulExports,
		"failed", result.FailedExports,
		"dir", opts.OutputDir,
	)
	return result, nil
}

// exportWorker is a worker goroutine that exports playlists from the jobs channel.
func (e *Engine) exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan PlaylistExportJob,
	results chan<- formatter.ExportEntry,
	opts ExportOpts,
) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results <- e.exportSinglePlaylist(job, opts)
	}
}

// exportSinglePlaylist exports a single playlist to the appropriate format.
func (e *Engine) exportSinglePlaylist(j PlaylistExportJob, opts ExportOpts) formatter.ExportEntry {
	result := formatter.ExportEntry{
		PlaylistID:   j.Export.Playlist.ID,
		PlaylistName: j.Export.Playlist.Name,
		Files:        []string{},
	}
	base := filepath.Join(opts.OutputDir, formatter.BaseName(j.Export.Playlist))

	switch opts.Format {
	case "csv":
		csvRes, err := formatter.WriteCSVExport(j.Export, base)
		if err != nil {
			result.Error = fmt.Errorf("CSV export failed: %w", err)
			return result
		}
		result.Files = []string{csvRes.TracksFile, csvRes.MetadataFile}

	case "markdown":
		mdRes, err := formatter.WriteMarkdownExport(j.Export, base)
		if err != nil {
			result.Error = fmt.Errorf("markdown export failed: %w", err)
			return result
		}
		result.Files = mdRes.Files

	case "txt":
		path, err := formatter.WriteTextExport(j.Export, base+"_tracks.txt")
		if err != nil {
			result.Error = fmt.Errorf("text export failed: %w", err)
			return result
		}
		result.Files = []string{path}

	case "m3u":
		path, err := formatter.WriteM3UExport(j.Export, base+".m3u8")
		if err != nil {
			result.Error = fmt.Errorf("M3U export failed: %w", err)
			return result
		}
		result.Files = []string{path}

	default:
		path, err := formatter.WriteJSONExport(j.Export, base+".json")
		if err != nil {
			result.Error = fmt.Errorf("JSON export failed: %w", err)
			return result
		}
		result.Files = []string{path}
	}

	result.Success = true
	return result
}

func loadExport(ctx context.Context, s *repositories.Session, id int64) (*models.PlaylistExport, error) {
	playlist, err := s.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	if playlist == nil {
		return nil, fmt.Errorf("playlist %d: %w", id, shared.ErrNotFound)
	}

	tracks, err := s.PlaylistTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.PlaylistExport{Playlist: *playlist, Tracks: tracks}, nil
}

func exportableIDs(ctx context.Context, s *repositories.Session) ([]int64, error) {
	playlists, err := s.ListPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(playlists))
	for _, p := range playlists {
		if !p.IsFolder {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}
