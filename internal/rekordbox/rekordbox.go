package rekordbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// Strategy names the access path that opened the source.
type Strategy string

const (
	StrategyBinding Strategy = "binding"
	StrategyDirect  Strategy = "direct"
)

// Source locates an external database. Key is 64 hex characters (a raw 256-bit key).
type Source struct {
	Path string
	Key  string
}

// Validate checks the preconditions callers own: the file exists and the key is well formed.
func (s Source) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("%w: path is empty", shared.ErrSourceMissing)
	}
	info, err := os.Stat(s.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", shared.ErrSourceMissing, s.Path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", shared.ErrSourceMissing, s.Path)
	}
	return ValidateKey(s.Key)
}

// ValidateKey reports [shared.ErrInvalidKey] unless key is exactly 64 hex characters.
func ValidateKey(key string) error {
	if len(key) != 64 {
		return shared.ErrInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return shared.ErrInvalidKey
		}
	}
	return nil
}

// Options configures [Open]. A nil Binding skips straight to direct access.
type Options struct {
	Binding Binding
	TempDir string
	Logger  *log.Logger
}

// Page bounds an extraction. A zero Limit means every row.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) bounds() (int, int) {
	limit, offset := p.Limit, p.Offset
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Report describes how the last extraction was served.
type Report struct {
	Strategy Strategy              `json:"strategy"`
	Tier     string                `json:"tier,omitempty"`
	Rows     int                   `json:"rows"`
	Failures []*shared.TierFailure `json:"-"`
}

// Err is nil when a tier produced rows, otherwise [shared.ErrNoTiers] joined with each tier failure.
func (r Report) Err() error {
	if r.Tier != "" || (r.Strategy == StrategyBinding && r.Rows > 0) {
		return nil
	}
	errs := []error{shared.ErrNoTiers}
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Adapter is one open external database.
type Adapter struct {
	src      Source
	logger   *log.Logger
	lib      Library
	db       *sql.DB
	tempPath string
	report   Report
	closed   bool
}

// Open connects to src, trying the binding first and direct access second.
//
// When every strategy fails it returns a [shared.ConnectionError] joining each failure. Open does not retry.
func Open(ctx context.Context, src Source, opts Options) (*Adapter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	logger = shared.WithLogger(logger, "component", "rekordbox", "path", src.Path)

	a := &Adapter{src: src, logger: logger}
	var errs []error

	if opts.Binding != nil {
		lib, err := opts.Binding.Open(ctx, src)
		if err == nil {
			a.lib = lib
			a.report.Strategy = StrategyBinding
			logger.Info("opened with binding", "binding", opts.Binding.Name())
			return a, nil
		}
		logger.Warn("binding unavailable, falling back to direct access", "binding", opts.Binding.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s binding: %w", opts.Binding.Name(), err))
	}

	if err := a.openDirect(ctx, opts.TempDir); err != nil {
		a.Close()
		errs = append(errs, fmt.Errorf("direct access: %w", err))
		return nil, &shared.ConnectionError{Path: src.Path, Err: errors.Join(errs...)}
	}

	a.report.Strategy = StrategyDirect
	logger.Info("opened with direct access", "key", shared.RedactKey(src.Key))
	return a, nil
}

// Strategy reports which access path is open.
func (a *Adapter) Strategy() Strategy {
	return a.report.Strategy
}

// Report returns the outcome of the most recent extraction.
func (a *Adapter) Report() Report {
	return a.report
}

// ExtractTracks returns normalized tracks ordered by content ID.
//
// Direct access walks the tier chain; failing tiers are recorded on the [Report] and an exhausted chain yields an
// empty slice and a nil error.
func (a *Adapter) ExtractTracks(ctx context.Context, page Page) ([]models.ExtractedTrack, error) {
	if a.closed {
		return nil, shared.ErrNotConnected
	}

	a.report = Report{Strategy: a.report.Strategy}

	if a.lib != nil {
		raws, err := a.lib.Tracks(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read tracks from binding: %w", err)
		}
		raws = pageSlice(raws, page)
		a.report.Rows = len(raws)
		a.logSample(raws)
		_, offset := page.bounds()
		return normalizeAll(raws, offset), nil
	}

	tierName, raws, failures := runTiers(ctx, a.db, tiers, page, newLookups(a.db))
	a.report.Tier, a.report.Rows, a.report.Failures = tierName, len(raws), failures

	for _, f := range failures {
		a.logger.Warn("extraction tier failed", "tier", f.Tier, "err", f.Err)
	}
	if tierName == "" {
		a.logger.Warn("no extraction tier returned rows")
		return []models.ExtractedTrack{}, nil
	}

	a.logger.Info("extracted tracks", "tier", tierName, "rows", len(raws))
	a.logSample(raws)
	_, offset := page.bounds()
	return normalizeAll(raws, offset), nil
}

// CountTracks returns the number of content rows without normalizing them.
func (a *Adapter) CountTracks(ctx context.Context) (int, error) {
	if a.closed {
		return 0, shared.ErrNotConnected
	}
	if a.lib != nil {
		raws, err := a.lib.Tracks(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read tracks from binding: %w", err)
		}
		return len(raws), nil
	}
	return countContent(ctx, a.db)
}

// Close releases the connection and deletes the temporary copy. It is safe to call more than once.
func (a *Adapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.lib != nil {
		if err := a.lib.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close binding: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if a.tempPath != "" {
		if err := removeCopy(a.tempPath); err != nil {
			errs = append(errs, err)
		} else {
			a.logger.Debug("removed temporary copy", "temp", a.tempPath)
		}
	}
	return errors.Join(errs...)
}

// ProbeResult is the outcome of a connect handshake.
type ProbeResult struct {
	Strategy Strategy `json:"strategy"`
	Tracks   int      `json:"track_count"`
}

// Probe validates src, opens it, counts content rows and closes it again.
func Probe(ctx context.Context, src Source, opts Options) (*ProbeResult, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	a, err := Open(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	n, err := a.CountTracks(ctx)
	if err != nil {
		return nil, err
	}
	return &ProbeResult{Strategy: a.Strategy(), Tracks: n}, nil
}

func (a *Adapter) logSample(raws []RawTrack) {
	for i, r := range raws {
		if i == 5 {
			break
		}
		a.logger.Debug("raw row", "n", i, "id", r.ID, "title", r.Title, "length", r.Length, "bpm", r.BPM, "artist", r.Artist)
	}
}

func pageSlice(raws []RawTrack, page Page) []RawTrack {
	limit, offset := page.bounds()
	if offset >= len(raws) {
		return nil
	}
	raws = raws[offset:]
	if limit >= 0 && limit < len(raws) {
		raws = raws[:limit]
	}
	return raws
}
