package rekordbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
)

// Binding is a higher-level access library for the external format. It opens the source in place;
// no temporary copy is made.
type Binding interface {
	Name() string
	Open(ctx context.Context, src Source) (Library, error)
}

// Library is a source opened by a [Binding].
//
// Tracks returns every content row in content ID order with names already resolved. Playlists
// returns nodes in parent-before-child order.
type Library interface {
	Tracks(ctx context.Context) ([]RawTrack, error)
	Playlists(ctx context.Context) ([]models.ExtractedPlaylist, error)
	Close() error
}

// PlainBinding reads a master database that is already decrypted, such as one exported by
// another tool or written by an older release without encryption. It opens the file read-only
// and immutable, so the source is never modified.
type PlainBinding struct{}

func (PlainBinding) Name() string { return "plain" }

// Open fails when the file is encrypted or lacks a non-empty content table, so [Open] falls back
// to direct access.
func (PlainBinding) Open(ctx context.Context, src Source) (Library, error) {
	db := sql.OpenDB(newKeyedConnector("file:"+src.Path+"?mode=ro&immutable=1", ""))
	db.SetMaxOpenConns(1)

	if err := validateContent(ctx, db, func(any, ...any) {}); err != nil {
		db.Close()
		return nil, err
	}
	return &plainLibrary{db: db}, nil
}

type plainLibrary struct {
	db *sql.DB
}

// Tracks walks the same tier chain as direct access and fails only when every tier raised.
func (l *plainLibrary) Tracks(ctx context.Context) ([]RawTrack, error) {
	_, raws, failures := runTiers(ctx, l.db, tiers, Page{}, newLookups(l.db))
	if len(raws) == 0 && len(failures) == len(tiers) {
		errs := make([]error, len(failures))
		for i, f := range failures {
			errs[i] = f
		}
		return nil, fmt.Errorf("failed to read content: %w", errors.Join(errs...))
	}
	return raws, nil
}

func (l *plainLibrary) Playlists(ctx context.Context) ([]models.ExtractedPlaylist, error) {
	return readPlaylists(ctx, l.db)
}

func (l *plainLibrary) Close() error {
	return l.db.Close()
}
