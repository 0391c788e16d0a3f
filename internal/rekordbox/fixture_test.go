package rekordbox

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// fixture describes a fake master database.
type fixture struct {
	lookups   bool // djmdKey, djmdGenre and djmdArtist
	playlists bool // djmdPlaylist and djmdSongPlaylist
	content   []string
}

var defaultContent = []string{
	`INSERT INTO djmdContent (ID, Title, Length, BPM, FolderPath, KeyID, GenreID, ArtistID) VALUES ('1', 'One More Time', 320, 12270, '/music/omt.mp3', 'k1', 'g1', 'a1')`,
	`INSERT INTO djmdContent (ID, Title, Length, BPM, FolderPath, KeyID, GenreID, ArtistID) VALUES ('2', 'Daft Punk - Aerodynamic', 212000, 12300, '/music/aero.mp3', NULL, NULL, NULL)`,
	`INSERT INTO djmdContent (ID, Title, Length, BPM, FolderPath, KeyID, GenreID, ArtistID) VALUES ('3', NULL, 0, NULL, NULL, 'k9', 'g9', 'a9')`,
}

// newFixture writes a plain SQLite database shaped like a rekordbox master.db and returns its path.
func newFixture(t *testing.T, f fixture) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "master.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE djmdContent (
			ID VARCHAR(255) PRIMARY KEY, Title VARCHAR(255), Length INTEGER, BPM INTEGER, FolderPath VARCHAR(255),
			KeyID VARCHAR(255), GenreID VARCHAR(255), ArtistID VARCHAR(255)
		)`,
	}
	if f.lookups {
		stmts = append(stmts,
			`CREATE TABLE djmdKey (ID VARCHAR(255) PRIMARY KEY, ScaleName VARCHAR(255))`,
			`CREATE TABLE djmdGenre (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255))`,
			`CREATE TABLE djmdArtist (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255))`,
			`INSERT INTO djmdKey VALUES ('k1', 'Dm')`,
			`INSERT INTO djmdGenre VALUES ('g1', 'French House')`,
			`INSERT INTO djmdArtist VALUES ('a1', 'Daft Punk')`,
		)
	}
	if f.playlists {
		stmts = append(stmts,
			`CREATE TABLE djmdPlaylist (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255), ParentID VARCHAR(255), Attribute INTEGER)`,
			`CREATE TABLE djmdSongPlaylist (ID VARCHAR(255) PRIMARY KEY, PlaylistID VARCHAR(255), ContentID VARCHAR(255), TrackNo INTEGER)`,
			`INSERT INTO djmdPlaylist VALUES ('p3', 'Closing', 'p1', 0)`,
			`INSERT INTO djmdPlaylist VALUES ('p1', 'Gigs', 'root', 1)`,
			`INSERT INTO djmdPlaylist VALUES ('p2', 'Warmup', 'root', 0)`,
			`INSERT INTO djmdSongPlaylist VALUES ('s1', 'p3', '2', 2)`,
			`INSERT INTO djmdSongPlaylist VALUES ('s2', 'p3', '1', 1)`,
			`INSERT INTO djmdSongPlaylist VALUES ('s3', 'p2', '3', 1)`,
			`INSERT INTO djmdSongPlaylist VALUES ('s4', 'p1', '1', 1)`,
		)
	}
	content := f.content
	if content == nil {
		content = defaultContent
	}
	stmts = append(stmts, content...)

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to build fixture: %v\n%s", err, stmt)
		}
	}
	return path
}

const testKey = "402fd482c38817c35ffa8ffb8c7d93143b749e7d315df7a81732a1ff43608497"
