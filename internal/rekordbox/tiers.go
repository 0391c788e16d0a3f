package rekordbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/shared"
)

// Tier names, richest first.
const (
	TierEnhanced   = "enhanced"
	TierSimplified = "simplified"
	TierMinimal    = "minimal"
)

// rawRow is a scanned content row; the *ID fields are resolved through lookups.
type rawRow struct {
	RawTrack
	keyID    sql.NullString
	genreID  sql.NullString
	artistID sql.NullString
}

// tier is one query variant of the extraction chain.
type tier struct {
	name    string
	query   string
	scan    func(rows *sql.Rows) (rawRow, error)
	resolve func(ctx context.Context, l *lookups, row *rawRow)
}

// tiers is the extraction chain. Every query orders by content ID and ends in a LIMIT/OFFSET clause.
var tiers = []tier{
	{
		name: TierEnhanced,
		query: `
			SELECT c.ID, c.Title, c.Length, c.BPM, c.FolderPath, k.ScaleName, g.Name, a.Name
			FROM djmdContent c
			LEFT JOIN djmdKey k ON c.KeyID = k.ID
			LEFT JOIN djmdGenre g ON c.GenreID = g.ID
			LEFT JOIN djmdArtist a ON c.ArtistID = a.ID
			ORDER BY c.ID
			LIMIT ? OFFSET ?`,
		scan: func(rows *sql.Rows) (rawRow, error) {
			var (
				r                  rawRow
				c                  contentColumns
				key, genre, artist sql.NullString
			)
			if err := rows.Scan(&c.id, &c.title, &c.length, &c.bpm, &c.path, &key, &genre, &artist); err != nil {
				return r, err
			}
			r.RawTrack = c.raw()
			r.Key, r.Genre, r.Artist = key.String, genre.String, artist.String
			return r, nil
		},
	},
	{
		name:  TierSimplified,
		query: `SELECT ID, Title, Length, BPM, FolderPath, ArtistID FROM djmdContent ORDER BY ID LIMIT ? OFFSET ?`,
		scan: func(rows *sql.Rows) (rawRow, error) {
			var (
				r rawRow
				c contentColumns
			)
			if err := rows.Scan(&c.id, &c.title, &c.length, &c.bpm, &c.path, &r.artistID); err != nil {
				return r, err
			}
			r.RawTrack = c.raw()
			return r, nil
		},
		resolve: func(ctx context.Context, l *lookups, r *rawRow) {
			r.Artist = l.artist(ctx, r.artistID)
		},
	},
	{
		name:  TierMinimal,
		query: `SELECT ID, Title, Length, BPM, FolderPath, KeyID, GenreID, ArtistID FROM djmdContent ORDER BY ID LIMIT ? OFFSET ?`,
		scan: func(rows *sql.Rows) (rawRow, error) {
			var (
				r rawRow
				c contentColumns
			)
			if err := rows.Scan(&c.id, &c.title, &c.length, &c.bpm, &c.path, &r.keyID, &r.genreID, &r.artistID); err != nil {
				return r, err
			}
			r.RawTrack = c.raw()
			return r, nil
		},
		resolve: func(ctx context.Context, l *lookups, r *rawRow) {
			r.Key = l.key(ctx, r.keyID)
			r.Genre = l.genre(ctx, r.genreID)
			r.Artist = l.artist(ctx, r.artistID)
		},
	},
}

// contentColumns holds the nullable djmdContent columns every tier selects.
type contentColumns struct {
	id     sql.NullString
	title  sql.NullString
	length sql.NullFloat64
	bpm    sql.NullFloat64
	path   sql.NullString
}

func (c contentColumns) raw() RawTrack {
	return RawTrack{
		ID:         c.id.String,
		Title:      c.title.String,
		Length:     c.length.Float64,
		BPM:        c.bpm.Float64,
		FolderPath: c.path.String,
	}
}

// run executes the tier query and resolves lookups after the result set is closed.
func (t tier) run(ctx context.Context, db *sql.DB, page Page, l *lookups) ([]RawTrack, error) {
	limit, offset := page.bounds()

	rows, err := db.QueryContext(ctx, t.query, limit, offset)
	if err != nil {
		return nil, err
	}

	var scanned []rawRow
	for rows.Next() {
		r, err := t.scan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row %d: %w", len(scanned)+1, err)
		}
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	raws := make([]RawTrack, len(scanned))
	for i := range scanned {
		if t.resolve != nil {
			t.resolve(ctx, l, &scanned[i])
		}
		raws[i] = scanned[i].RawTrack
	}
	return raws, nil
}

// runTiers walks the chain until a tier returns rows. Failures are returned for the report, never raised;
// exhausting the chain yields no rows.
func runTiers(ctx context.Context, db *sql.DB, chain []tier, page Page, l *lookups) (string, []RawTrack, []*shared.TierFailure) {
	var failures []*shared.TierFailure
	for _, t := range chain {
		raws, err := t.run(ctx, db, page, l)
		if err != nil {
			failures = append(failures, &shared.TierFailure{Tier: t.name, Err: err})
			continue
		}
		if len(raws) > 0 {
			return t.name, raws, failures
		}
	}
	return "", nil, failures
}

// lookups resolves key, genre and artist IDs to names, memoized for one extraction pass.
type lookups struct {
	db    *sql.DB
	cache map[string]map[string]string
}

func newLookups(db *sql.DB) *lookups {
	return &lookups{db: db, cache: make(map[string]map[string]string)}
}

func (l *lookups) key(ctx context.Context, id sql.NullString) string {
	return l.name(ctx, "SELECT ScaleName FROM djmdKey WHERE ID = ?", id, UnknownKey)
}

func (l *lookups) genre(ctx context.Context, id sql.NullString) string {
	return l.name(ctx, "SELECT Name FROM djmdGenre WHERE ID = ?", id, UnknownGenre)
}

func (l *lookups) artist(ctx context.Context, id sql.NullString) string {
	return l.name(ctx, "SELECT Name FROM djmdArtist WHERE ID = ?", id, UnknownArtist)
}

// name returns fallback for a null ID, a missing row, a null name or any query error.
func (l *lookups) name(ctx context.Context, query string, id sql.NullString, fallback string) string {
	if !id.Valid || id.String == "" {
		return fallback
	}

	byID := l.cache[query]
	if byID == nil {
		byID = make(map[string]string)
		l.cache[query] = byID
	}
	if v, ok := byID[id.String]; ok {
		return v
	}

	var name sql.NullString
	err := l.db.QueryRowContext(ctx, query, id.String).Scan(&name)
	if err != nil && !errors.Is(err, sql.ErrNoRows) && ctx.Err() != nil {
		// cancelled; do not cache
		return fallback
	}

	v := name.String
	if err != nil || v == "" {
		v = fallback
	}
	byID[id.String] = v
	return v
}
