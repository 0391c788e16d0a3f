package tasks

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	th "github.com/desertthunder/crate/internal/testing"
	"github.com/google/uuid"
)

const testKey = "402fd482c38817c35ffa8ffb8c7d93143b749e7d315df7a81732a1ff43608497"

// writeMaster creates a plain SQLite file shaped like a rekordbox master.db.
func writeMaster(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "master.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to create master: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE djmdContent (
			ID VARCHAR(255) PRIMARY KEY, Title VARCHAR(255), Length INTEGER, BPM INTEGER, FolderPath VARCHAR(255),
			KeyID VARCHAR(255), GenreID VARCHAR(255), ArtistID VARCHAR(255)
		)`,
		`CREATE TABLE djmdKey (ID VARCHAR(255) PRIMARY KEY, ScaleName VARCHAR(255))`,
		`CREATE TABLE djmdGenre (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255))`,
		`CREATE TABLE djmdArtist (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255))`,
		`CREATE TABLE djmdPlaylist (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255), ParentID VARCHAR(255), Attribute INTEGER)`,
		`CREATE TABLE djmdSongPlaylist (ID VARCHAR(255) PRIMARY KEY, PlaylistID VARCHAR(255), ContentID VARCHAR(255), TrackNo INTEGER)`,
		`INSERT INTO djmdKey VALUES ('k1', 'Dm')`,
		`INSERT INTO djmdGenre VALUES ('g1', 'French House')`,
		`INSERT INTO djmdArtist VALUES ('a1', 'Daft Punk')`,
		`INSERT INTO djmdContent VALUES ('1', 'One More Time', 320, 12270, '/music/omt.mp3', 'k1', 'g1', 'a1')`,
		`INSERT INTO djmdContent VALUES ('2', 'Daft Punk - Aerodynamic', 212000, 12300, '/music/aero.mp3', NULL, NULL, NULL)`,
		`INSERT INTO djmdContent VALUES ('3', NULL, 0, NULL, NULL, NULL, NULL, NULL)`,
		`INSERT INTO djmdPlaylist VALUES ('p3', 'Closing', 'p1', 0)`,
		`INSERT INTO djmdPlaylist VALUES ('p1', 'Gigs', 'root', 1)`,
		`INSERT INTO djmdPlaylist VALUES ('p2', 'Warmup', 'root', 0)`,
		`INSERT INTO djmdSongPlaylist VALUES ('s1', 'p3', '2', 2)`,
		`INSERT INTO djmdSongPlaylist VALUES ('s2', 'p3', '1', 1)`,
		`INSERT INTO djmdSongPlaylist VALUES ('s3', 'p2', '3', 1)`,
		`INSERT INTO djmdSongPlaylist VALUES ('s4', 'p2', '99', 2)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to build master: %v\n%s", err, stmt)
		}
	}
	return path
}

func record(id, title string) models.ExtractedTrack {
	return models.ExtractedTrack{
		ID:         id,
		Title:      title,
		Artist:     "Artist " + id,
		Album:      rekordbox.UnknownAlbum,
		Genre:      rekordbox.UnknownGenre,
		Key:        rekordbox.UnknownKey,
		Duration:   200,
		BPM:        124,
		ExternalID: id,
	}
}

func countTracks(t *testing.T, s *repositories.Session) int {
	t.Helper()
	page, err := s.ListTracks(context.Background(), models.TrackQuery{Limit: 1000})
	if err != nil {
		t.Fatalf("ListTracks() error = %v", err)
	}
	return page.Total
}

func setupEngine(t *testing.T) (*Engine, *repositories.Session) {
	t.Helper()
	catalog := th.MustOpenCatalog(t)
	return NewEngine(catalog, EngineOpts{}), th.MustSession(t, catalog)
}

func TestReconcileTracks(t *testing.T) {
	ctx := context.Background()

	t.Run("re-import updates instead of inserting", func(t *testing.T) {
		engine, s := setupEngine(t)
		records := []models.ExtractedTrack{record("1", "A"), record("2", "B"), record("3", "C")}

		first, err := engine.ReconcileTracks(ctx, s, records, nil)
		if err != nil {
			t.Fatalf("first ReconcileTracks() error = %v", err)
		}
		if first.Inserted != 3 || first.Updated != 0 {
			t.Errorf("first pass inserted=%d updated=%d, want 3/0", first.Inserted, first.Updated)
		}
		afterFirst := countTracks(t, s)

		records[1].Title = "B (Extended Mix)"
		second, err := engine.ReconcileTracks(ctx, s, records, nil)
		if err != nil {
			t.Fatalf("second ReconcileTracks() error = %v", err)
		}
		if second.Inserted != 0 || second.Updated != 3 {
			t.Errorf("second pass inserted=%d updated=%d, want 0/3", second.Inserted, second.Updated)
		}
		if got := countTracks(t, s); got != afterFirst {
			t.Errorf("track count = %d after re-import, want %d", got, afterFirst)
		}

		page, err := s.ListTracks(ctx, models.TrackQuery{Search: "Extended"})
		if err != nil {
			t.Fatalf("ListTracks() error = %v", err)
		}
		if page.Total != 1 || page.Tracks[0].ExternalID != "2" {
			t.Errorf("updated title not applied to external ID 2: %+v", page.Tracks)
		}
	})

	t.Run("records without external ID are skipped", func(t *testing.T) {
		engine, s := setupEngine(t)
		records := []models.ExtractedTrack{record("1", "A"), record("", "No ID"), record("  ", "Blank ID")}

		result, err := engine.ReconcileTracks(ctx, s, records, nil)
		if err != nil {
			t.Fatalf("ReconcileTracks() error = %v", err)
		}
		if result.Inserted != 1 || result.Skipped != 2 || result.Extracted != 3 {
			t.Errorf("result = %+v, want 1 inserted and 2 skipped of 3", result)
		}
		if got := countTracks(t, s); got != 1 {
			t.Errorf("track count = %d, want 1", got)
		}
	})

	t.Run("repeated external ID in one batch updates the first insert", func(t *testing.T) {
		engine, s := setupEngine(t)
		records := []models.ExtractedTrack{record("7", "First"), record("7", "Second")}

		result, err := engine.ReconcileTracks(ctx, s, records, nil)
		if err != nil {
			t.Fatalf("ReconcileTracks() error = %v", err)
		}
		if result.Inserted != 1 || result.Updated != 1 {
			t.Errorf("result = %+v, want 1 inserted and 1 updated", result)
		}
		if got := countTracks(t, s); got != 1 {
			t.Errorf("track count = %d, want 1", got)
		}
	})

	t.Run("failure rolls back the whole batch", func(t *testing.T) {
		engine, s := setupEngine(t)
		if _, err := engine.ReconcileTracks(ctx, s, []models.ExtractedTrack{record("1", "Existing")}, nil); err != nil {
			t.Fatalf("seed ReconcileTracks() error = %v", err)
		}
		before := countTracks(t, s)

		records := []models.ExtractedTrack{record("1", "Renamed"), record("2", "New"), record("3", ""), record("4", "Never")}
		result, err := engine.ReconcileTracks(ctx, s, records, nil)
		if err == nil {
			t.Fatal("ReconcileTracks() expected error for empty title")
		}
		if result != nil {
			t.Errorf("result = %+v, want nil on failure", result)
		}
		if !errors.Is(err, shared.ErrTransaction) || !errors.Is(err, shared.ErrValidation) {
			t.Errorf("error = %v, want transaction error wrapping a validation error", err)
		}

		var txErr *shared.TransactionError
		if !errors.As(err, &txErr) {
			t.Fatalf("error type = %T, want *shared.TransactionError", err)
		}
		if txErr.Attempted != 4 || txErr.Applied != 2 {
			t.Errorf("attempted=%d applied=%d, want 4/2", txErr.Attempted, txErr.Applied)
		}

		if got := countTracks(t, s); got != before {
			t.Errorf("track count = %d after rollback, want %d", got, before)
		}
		track, err := s.GetTrack(ctx, 1)
		if err != nil {
			t.Fatalf("GetTrack() error = %v", err)
		}
		if track.Title != "Existing" {
			t.Errorf("title = %q, update should have been rolled back", track.Title)
		}
	})

	t.Run("each run gets a UUID", func(t *testing.T) {
		engine, s := setupEngine(t)
		a, err := engine.ReconcileTracks(ctx, s, []models.ExtractedTrack{record("1", "A")}, nil)
		if err != nil {
			t.Fatalf("ReconcileTracks() error = %v", err)
		}
		b, err := engine.ReconcileTracks(ctx, s, []models.ExtractedTrack{record("1", "A")}, nil)
		if err != nil {
			t.Fatalf("ReconcileTracks() error = %v", err)
		}
		if _, err := uuid.Parse(a.RunID); err != nil {
			t.Errorf("RunID %q is not a UUID: %v", a.RunID, err)
		}
		if a.RunID == b.RunID {
			t.Error("run IDs should differ between runs")
		}
	})
}

func TestReconcilePlaylists(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, engine *Engine, s *repositories.Session) map[string]int64 {
		t.Helper()
		records := []models.ExtractedTrack{record("1", "A"), record("2", "B"), record("3", "C")}
		if _, err := engine.ReconcileTracks(ctx, s, records, nil); err != nil {
			t.Fatalf("ReconcileTracks() error = %v", err)
		}
		batch, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		defer batch.Rollback()
		index, err := batch.ExternalIndex(ctx)
		if err != nil {
			t.Fatalf("ExternalIndex() error = %v", err)
		}
		return index
	}

	t.Run("remaps known tracks in order and drops the rest", func(t *testing.T) {
		engine, s := setupEngine(t)
		index := seed(t, engine, s)

		playlists := []models.ExtractedPlaylist{
			{ExternalID: "p1", Name: "Mixed", TrackIDs: []string{"3", "missing", "1", "3"}},
		}
		result, err := engine.ReconcilePlaylists(ctx, s, playlists, nil)
		if err != nil {
			t.Fatalf("ReconcilePlaylists() error = %v", err)
		}
		if result.Imported != 1 || result.TracksLinked != 2 || result.TracksDropped != 2 {
			t.Errorf("result = %+v, want 1 imported, 2 linked, 2 dropped", result)
		}

		got, err := s.ListPlaylists(ctx)
		if err != nil {
			t.Fatalf("ListPlaylists() error = %v", err)
		}
		want := []int64{index["3"], index["1"]}
		if len(got) != 1 || !slices.Equal(got[0].TrackIDs, want) {
			t.Errorf("playlists = %+v, want one playlist with tracks %v", got, want)
		}
	})

	t.Run("parents are remapped within the batch", func(t *testing.T) {
		engine, s := setupEngine(t)
		seed(t, engine, s)

		playlists := []models.ExtractedPlaylist{
			{ExternalID: "f1", Name: "Gigs", IsFolder: true, TrackIDs: []string{"1"}},
			{ExternalID: "p2", Name: "Closing", ParentID: "f1", TrackIDs: []string{"2"}},
			{ExternalID: "p3", Name: "Orphan", ParentID: "gone", TrackIDs: []string{"1"}},
		}
		result, err := engine.ReconcilePlaylists(ctx, s, playlists, nil)
		if err != nil {
			t.Fatalf("ReconcilePlaylists() error = %v", err)
		}
		if result.Folders != 1 || result.Imported != 3 {
			t.Errorf("result = %+v, want 3 imported with 1 folder", result)
		}

		got, err := s.ListPlaylists(ctx)
		if err != nil {
			t.Fatalf("ListPlaylists() error = %v", err)
		}
		byName := make(map[string]models.Playlist, len(got))
		for _, p := range got {
			byName[p.Name] = p
		}

		folder := byName["Gigs"]
		if !folder.IsFolder || len(folder.TrackIDs) != 0 {
			t.Errorf("folder = %+v, want a folder without tracks", folder)
		}
		if closing := byName["Closing"]; closing.ParentID == nil || *closing.ParentID != folder.ID {
			t.Errorf("Closing parent = %v, want %d", closing.ParentID, folder.ID)
		}
		if orphan := byName["Orphan"]; orphan.ParentID != nil {
			t.Errorf("Orphan parent = %v, want top-level", *orphan.ParentID)
		}
	})

	t.Run("re-import replaces playlists", func(t *testing.T) {
		engine, s := setupEngine(t)
		seed(t, engine, s)

		playlists := []models.ExtractedPlaylist{{ExternalID: "p1", Name: "Set", TrackIDs: []string{"1", "2"}}}
		if _, err := engine.ReconcilePlaylists(ctx, s, playlists, nil); err != nil {
			t.Fatalf("first ReconcilePlaylists() error = %v", err)
		}
		playlists[0].TrackIDs = []string{"2"}
		if _, err := engine.ReconcilePlaylists(ctx, s, playlists, nil); err != nil {
			t.Fatalf("second ReconcilePlaylists() error = %v", err)
		}

		got, err := s.ListPlaylists(ctx)
		if err != nil {
			t.Fatalf("ListPlaylists() error = %v", err)
		}
		if len(got) != 1 || got[0].TrackCount != 1 {
			t.Errorf("playlists = %+v, want one playlist with one track", got)
		}
	})

	t.Run("failure rolls back the whole batch", func(t *testing.T) {
		engine, s := setupEngine(t)
		seed(t, engine, s)

		playlists := []models.ExtractedPlaylist{
			{ExternalID: "p1", Name: "Good", TrackIDs: []string{"1"}},
			{ExternalID: "p2", Name: "   "},
		}
		_, err := engine.ReconcilePlaylists(ctx, s, playlists, nil)
		if !errors.Is(err, shared.ErrTransaction) {
			t.Fatalf("error = %v, want transaction error", err)
		}

		var txErr *shared.TransactionError
		if errors.As(err, &txErr) && (txErr.Attempted != 2 || txErr.Applied != 1) {
			t.Errorf("attempted=%d applied=%d, want 2/1", txErr.Attempted, txErr.Applied)
		}

		got, err := s.ListPlaylists(ctx)
		if err != nil {
			t.Fatalf("ListPlaylists() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("playlists = %+v, want none after rollback", got)
		}
	})
}

// emptyBinding opens every source and reports no rows.
type emptyBinding struct{}

func (emptyBinding) Name() string { return "empty" }

func (emptyBinding) Open(ctx context.Context, src rekordbox.Source) (rekordbox.Library, error) {
	return emptyLibrary{}, nil
}

type emptyLibrary struct{}

func (emptyLibrary) Tracks(ctx context.Context) ([]rekordbox.RawTrack, error) { return nil, nil }

func (emptyLibrary) Playlists(ctx context.Context) ([]models.ExtractedPlaylist, error) { return nil, nil }

func (emptyLibrary) Close() error { return nil }

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("tracks then playlists", func(t *testing.T) {
		catalog := th.MustOpenCatalog(t)
		engine := NewEngine(catalog, EngineOpts{Rekordbox: rekordbox.Options{TempDir: t.TempDir()}})
		src := rekordbox.Source{Path: writeMaster(t), Key: testKey}

		tracks, err := engine.ImportTracks(ctx, src, nil)
		if err != nil {
			t.Fatalf("ImportTracks() error = %v", err)
		}
		if tracks.Inserted != 3 || tracks.Updated != 0 {
			t.Errorf("tracks = %+v, want 3 inserted", tracks)
		}
		if tracks.Strategy != rekordbox.StrategyDirect || tracks.Tier != rekordbox.TierEnhanced {
			t.Errorf("strategy=%s tier=%s, want direct/enhanced", tracks.Strategy, tracks.Tier)
		}

		again, err := engine.ImportTracks(ctx, src, nil)
		if err != nil {
			t.Fatalf("second ImportTracks() error = %v", err)
		}
		if again.Inserted != 0 || again.Updated != 3 {
			t.Errorf("second import = %+v, want 3 updated", again)
		}

		playlists, err := engine.ImportPlaylists(ctx, src, nil)
		if err != nil {
			t.Fatalf("ImportPlaylists() error = %v", err)
		}
		if playlists.Imported != 3 || playlists.Folders != 1 || playlists.TracksLinked != 3 || playlists.TracksDropped != 1 {
			t.Errorf("playlists = %+v, want 3 imported, 1 folder, 3 linked, 1 dropped", playlists)
		}

		s := th.MustSession(t, catalog)
		page, err := s.ListTracks(ctx, models.TrackQuery{Search: "Aerodynamic"})
		if err != nil {
			t.Fatalf("ListTracks() error = %v", err)
		}
		if page.Total != 1 || page.Tracks[0].Artist != "Daft Punk" || page.Tracks[0].Duration != 212 {
			t.Errorf("normalized track = %+v", page.Tracks)
		}

		all, err := s.ListPlaylists(ctx)
		if err != nil {
			t.Fatalf("ListPlaylists() error = %v", err)
		}
		for _, p := range all {
			if p.Name != "Closing" {
				continue
			}
			tracks, err := s.PlaylistTracks(ctx, p.ID)
			if err != nil {
				t.Fatalf("PlaylistTracks() error = %v", err)
			}
			if len(tracks) != 2 || tracks[0].ExternalID != "1" || tracks[1].ExternalID != "2" {
				t.Errorf("Closing tracks out of order: %+v", tracks)
			}
		}
	})

	t.Run("negative bpm imports as zero", func(t *testing.T) {
		catalog := th.MustOpenCatalog(t)
		engine := NewEngine(catalog, EngineOpts{Rekordbox: rekordbox.Options{TempDir: t.TempDir()}})
		master := writeMaster(t)

		db, err := sql.Open("sqlite3", master)
		if err != nil {
			t.Fatalf("failed to open master: %v", err)
		}
		if _, err := db.Exec(`INSERT INTO djmdContent VALUES ('4', 'Odd Row', 300, -100, NULL, NULL, NULL, NULL)`); err != nil {
			t.Fatalf("failed to add row: %v", err)
		}
		db.Close()

		result, err := engine.ImportTracks(ctx, rekordbox.Source{Path: master, Key: testKey}, nil)
		if err != nil {
			t.Fatalf("ImportTracks() error = %v", err)
		}
		if result.Inserted != 4 {
			t.Errorf("inserted = %d, want 4", result.Inserted)
		}

		page, err := th.MustSession(t, catalog).ListTracks(ctx, models.TrackQuery{Search: "Odd Row"})
		if err != nil {
			t.Fatalf("ListTracks() error = %v", err)
		}
		if page.Total != 1 || page.Tracks[0].BPM != 0 {
			t.Errorf("odd row = %+v, want bpm 0", page.Tracks)
		}
	})

	t.Run("empty extraction", func(t *testing.T) {
		catalog := th.MustOpenCatalog(t)
		engine := NewEngine(catalog, EngineOpts{Rekordbox: rekordbox.Options{Binding: emptyBinding{}}})
		src := rekordbox.Source{Path: writeMaster(t), Key: testKey}

		_, err := engine.ImportTracks(ctx, src, nil)
		if !errors.Is(err, shared.ErrNoTracks) {
			t.Errorf("error = %v, want ErrNoTracks", err)
		}
	})

	t.Run("source preconditions", func(t *testing.T) {
		engine := NewEngine(th.MustOpenCatalog(t), EngineOpts{})
		master := writeMaster(t)

		tests := []struct {
			name string
			src  rekordbox.Source
			want error
		}{
			{"missing file", rekordbox.Source{Path: filepath.Join(t.TempDir(), "nope.db"), Key: testKey}, shared.ErrSourceMissing},
			{"short key", rekordbox.Source{Path: master, Key: "abc"}, shared.ErrInvalidKey},
			{"non hex key", rekordbox.Source{Path: master, Key: "z" + testKey[1:]}, shared.ErrInvalidKey},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := engine.ImportTracks(ctx, tt.src, nil); !errors.Is(err, tt.want) {
					t.Errorf("ImportTracks() error = %v, want %v", err, tt.want)
				}
				if _, err := engine.ImportPlaylists(ctx, tt.src, nil); !errors.Is(err, tt.want) {
					t.Errorf("ImportPlaylists() error = %v, want %v", err, tt.want)
				}
			})
		}
	})

	t.Run("progress phases", func(t *testing.T) {
		engine := NewEngine(th.MustOpenCatalog(t), EngineOpts{Rekordbox: rekordbox.Options{TempDir: t.TempDir()}})
		src := rekordbox.Source{Path: writeMaster(t), Key: testKey}

		progressCh := make(chan ProgressUpdate, 100)
		if _, err := engine.ImportTracks(ctx, src, progressCh); err != nil {
			t.Fatalf("ImportTracks() error = %v", err)
		}
		close(progressCh)

		seen := make(map[Phase]bool)
		for u := range progressCh {
			seen[u.Phase] = true
		}
		for _, p := range []Phase{Connect, Extract, Reconcile, Commit} {
			if !seen[p] {
				t.Errorf("no %s update sent", p)
			}
		}
	})
}

func TestProgressUpdate_NonBlocking(t *testing.T) {
	engine, s := setupEngine(t)

	// Unbuffered and never read
	progressCh := make(chan ProgressUpdate)

	done := make(chan error)
	go func() {
		_, err := engine.ReconcileTracks(context.Background(), s, []models.ExtractedTrack{record("1", "A")}, progressCh)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ReconcileTracks() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("ReconcileTracks() should not block on progress sends")
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{Connect, "connect"},
		{Extract, "extract"},
		{Reconcile, "reconcile"},
		{Commit, "commit"},
		{ExportPlaylist, "export_playlist"},
		{Phase(99), ""},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
