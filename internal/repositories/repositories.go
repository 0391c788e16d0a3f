package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// querier is satisfied by [sql.Conn] and [sql.Tx] so each operation can run inside a
// session's own transaction or a caller's batch.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CatalogOpts configures [OpenCatalog]. Zero values fall back to package defaults.
type CatalogOpts struct {
	MaxOpenConns  int
	MaxIdleConns  int
	BusyTimeoutMS int
	Logger        *log.Logger
}

// Catalog is the local catalog database. It is safe for concurrent use; [Session]s are not.
type Catalog struct {
	db     *sql.DB
	path   string
	logger *log.Logger
}

// OpenCatalog opens (creating if needed) the catalog at path and applies pending migrations.
func OpenCatalog(ctx context.Context, path string, opts CatalogOpts) (*Catalog, error) {
	db, err := shared.NewDatabaseWithTimeout(path, opts.BusyTimeoutMS)
	if err != nil {
		return nil, err
	}

	maxOpen, maxIdle := opts.MaxOpenConns, opts.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen / 2
	}
	shared.ConfigureDatabase(db, maxOpen, maxIdle)

	c := NewCatalog(db, path, opts.Logger)
	ran, err := shared.RunMigrations(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if ran > 0 {
		c.logger.Info("applied catalog migrations", "count", ran, "path", path)
	}
	return c, nil
}

// NewCatalog wraps an already migrated database handle.
func NewCatalog(db *sql.DB, path string, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Catalog{db: db, path: path, logger: logger}
}

// Path returns the catalog file path.
func (c *Catalog) Path() string { return c.path }

// DB exposes the underlying pool for maintenance commands.
func (c *Catalog) DB() *sql.DB { return c.db }

// Close closes the connection pool.
func (c *Catalog) Close() error { return c.db.Close() }

// Session pins one pooled connection for a single worker.
func (c *Catalog) Session(ctx context.Context) (*Session, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire catalog connection: %w", err)
	}
	return &Session{conn: conn, catalog: c}, nil
}

// Session is one worker's handle on the catalog. It must not be used from more than one goroutine, nor while one
// of its batches is open.
type Session struct {
	conn    *sql.Conn
	catalog *Catalog
}

// Close returns the pinned connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

// inTx runs fn inside a transaction on the session connection, committing on success.
func (s *Session) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Begin opens a batch holding one transaction for a bulk import.
func (s *Session) Begin(ctx context.Context) (*Batch, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}
	return &Batch{tx: tx}, nil
}

// Batch is a transaction spanning many writes. Nothing it writes is visible to other sessions until [Batch.Commit];
// [Batch.Rollback] after Commit is a no-op, so it can always be deferred.
type Batch struct {
	tx *sql.Tx
}

// ExternalIndex maps every non-null track external ID to its local ID, as seen inside the batch.
func (b *Batch) ExternalIndex(ctx context.Context) (map[string]int64, error) {
	return externalIndex(ctx, b.tx)
}

// AddTrack upserts by external ID and reports whether a new row was inserted.
func (b *Batch) AddTrack(ctx context.Context, in models.TrackInput) (int64, bool, error) {
	return upsertTrack(ctx, b.tx, in, now())
}

// UpdateTrack overwrites an existing track inside the batch.
func (b *Batch) UpdateTrack(ctx context.Context, id int64, in models.TrackInput) error {
	return updateTrack(ctx, b.tx, id, in, now())
}

// AddPlaylist inserts or, for a known external ID, replaces a playlist and its membership.
func (b *Batch) AddPlaylist(ctx context.Context, in models.PlaylistInput) (int64, error) {
	return upsertPlaylist(ctx, b.tx, in, now())
}

// Commit applies the batch.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Rollback discards the batch.
func (b *Batch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to roll back batch: %w", err)
	}
	return nil
}

// now is the store's single source of timestamps.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}
