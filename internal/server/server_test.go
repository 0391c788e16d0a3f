package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	th "github.com/desertthunder/crate/internal/testing"
)

const testKey = "402fd482c38817c35ffa8ffb8c7d93143b749e7d315df7a81732a1ff43608497"

func writeMaster(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "master.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to create master: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE djmdContent (
			ID VARCHAR(255) PRIMARY KEY, Title VARCHAR(255), Length INTEGER, BPM INTEGER, FolderPath VARCHAR(255),
			KeyID VARCHAR(255), GenreID VARCHAR(255), ArtistID VARCHAR(255)
		)`,
		`CREATE TABLE djmdKey (ID VARCHAR(255) PRIMARY KEY, ScaleName VARCHAR(255))`,
		`CREATE TABLE djmdGenre (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255))`,
		`CREATE TABLE djmdArtist (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255))`,
		`CREATE TABLE djmdPlaylist (ID VARCHAR(255) PRIMARY KEY, Name VARCHAR(255), ParentID VARCHAR(255), Attribute INTEGER)`,
		`CREATE TABLE djmdSongPlaylist (ID VARCHAR(255) PRIMARY KEY, PlaylistID VARCHAR(255), ContentID VARCHAR(255), TrackNo INTEGER)`,
		`INSERT INTO djmdContent VALUES ('10', 'Daft Punk - One More Time', 320, 12270, '/music/omt.mp3', NULL, NULL, NULL)`,
		`INSERT INTO djmdContent VALUES ('11', 'Aerodynamic', 212000, 12300, '/music/aero.mp3', NULL, NULL, NULL)`,
		`INSERT INTO djmdPlaylist VALUES ('p1', 'Set', 'root', 0)`,
		`INSERT INTO djmdSongPlaylist VALUES ('s1', 'p1', '11', 1)`,
		`INSERT INTO djmdSongPlaylist VALUES ('s2', 'p1', '10', 2)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to build master: %v\n%s", err, stmt)
		}
	}
	return path
}

type testServer struct {
	*httptest.Server
	srv     *Server
	catalog *repositories.Catalog
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	catalog := th.MustOpenCatalog(t)
	rbOpts := rekordbox.Options{TempDir: t.TempDir()}
	engine := tasks.NewEngine(catalog, tasks.EngineOpts{Rekordbox: rbOpts})
	srv := New(catalog, engine, rbOpts, opts)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, srv: srv, catalog: catalog}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp.StatusCode, string(data)
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", body, err)
	}
	return v
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t, Options{})
	s := th.MustSession(t, ts.catalog)
	first := th.MustAddTrack(t, s, models.TrackInput{Title: "Strobe", Artist: "deadmau5", Genre: "Progressive"})
	th.MustAddTrack(t, s, models.TrackInput{Title: "Ghosts n Stuff", Artist: "deadmau5"})
	th.MustAddTrack(t, s, models.TrackInput{Title: "Windowlicker", Artist: "Aphex Twin"})
	playlist := th.MustAddPlaylist(t, s, models.PlaylistInput{Name: "Night", TrackIDs: []int64{first}})

	t.Run("root and health", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/", "")
		if status != http.StatusOK || !strings.Contains(body, `"status":"Running"`) {
			t.Errorf("GET / = %d %s", status, body)
		}
		status, body = ts.do(t, http.MethodGet, "/api/health", "")
		if status != http.StatusOK || !strings.Contains(body, `"healthy"`) {
			t.Errorf("GET /api/health = %d %s", status, body)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		if status, _ := ts.do(t, http.MethodGet, "/api/nope", ""); status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		if status, _ := ts.do(t, http.MethodPut, "/api/tracks/1", "{}"); status != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", status)
		}
	})

	t.Run("list tracks", func(t *testing.T) {
		tests := []struct {
			name       string
			query      string
			wantStatus int
			wantTotal  int
			wantItems  int
		}{
			{"defaults", "", http.StatusOK, 3, 3},
			{"search", "?search=DEADMAU5", http.StatusOK, 2, 2},
			{"paging", "?skip=1&limit=1", http.StatusOK, 3, 1},
			{"negative skip", "?skip=-1", http.StatusBadRequest, 0, 0},
			{"zero limit", "?limit=0", http.StatusBadRequest, 0, 0},
			{"limit too large", "?limit=1001", http.StatusBadRequest, 0, 0},
			{"non numeric", "?limit=ten", http.StatusBadRequest, 0, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				status, body := ts.do(t, http.MethodGet, "/api/tracks"+tt.query, "")
				if status != tt.wantStatus {
					t.Fatalf("status = %d, want %d: %s", status, tt.wantStatus, body)
				}
				if status != http.StatusOK {
					return
				}
				got := decode[trackListBody](t, body)
				if got.Total != tt.wantTotal || len(got.Items) != tt.wantItems {
					t.Errorf("total=%d items=%d, want %d/%d", got.Total, len(got.Items), tt.wantTotal, tt.wantItems)
				}
			})
		}
	})

	t.Run("get track", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, fmt.Sprintf("/api/tracks/%d", first), "")
		if status != http.StatusOK {
			t.Fatalf("status = %d: %s", status, body)
		}
		if got := decode[models.Track](t, body); got.Title != "Strobe" || got.Genre != "Progressive" {
			t.Errorf("track = %+v", got)
		}

		status, body = ts.do(t, http.MethodGet, "/api/tracks/9999", "")
		if status != http.StatusNotFound || !strings.Contains(body, "Track not found") {
			t.Errorf("missing track = %d %s", status, body)
		}

		if status, _ := ts.do(t, http.MethodGet, "/api/tracks/abc", ""); status != http.StatusBadRequest {
			t.Errorf("bad id status = %d, want 400", status)
		}
	})

	t.Run("tags", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/api/tags", `{"name":"peak"}`)
		if status != http.StatusCreated {
			t.Fatalf("POST /api/tags = %d %s", status, body)
		}
		created := decode[models.Tag](t, body)

		_, body = ts.do(t, http.MethodPost, "/api/tags", `{"name":"peak"}`)
		if again := decode[models.Tag](t, body); again.ID != created.ID {
			t.Errorf("second add returned ID %d, want %d", again.ID, created.ID)
		}

		if status, _ := ts.do(t, http.MethodPost, "/api/tags", `{"name":""}`); status != http.StatusBadRequest {
			t.Errorf("empty tag status = %d, want 400", status)
		}
		if status, _ := ts.do(t, http.MethodPost, "/api/tags", `not json`); status != http.StatusBadRequest {
			t.Errorf("bad body status = %d, want 400", status)
		}

		status, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/tracks/%d/tags", first), `{"name":"peak"}`)
		if status != http.StatusOK {
			t.Fatalf("tag track = %d %s", status, body)
		}
		if status, _ := ts.do(t, http.MethodPost, "/api/tracks/9999/tags", `{"name":"unused"}`); status != http.StatusNotFound {
			t.Errorf("tag missing track status = %d, want 404", status)
		}

		_, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/tracks/%d", first), "")
		if got := decode[models.Track](t, body); len(got.Tags) != 1 || got.Tags[0] != "peak" {
			t.Errorf("tags = %v, want [peak]", got.Tags)
		}

		_, body = ts.do(t, http.MethodGet, "/api/tags", "")
		if got := decode[listBody[models.Tag]](t, body); got.Total != 1 || got.Items[0].Name != "peak" {
			t.Errorf("tag list = %+v, want only peak", got)
		}
	})

	t.Run("playlists", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/api/playlists", "")
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		got := decode[listBody[models.Playlist]](t, body)
		if got.Total != 1 || got.Items[0].Name != "Night" || len(got.Items[0].TrackIDs) != 1 {
			t.Errorf("playlists = %+v", got)
		}

		_, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/playlists/%d/tracks", playlist), "")
		if tracks := decode[listBody[models.Track]](t, body); tracks.Total != 1 || tracks.Items[0].ID != first {
			t.Errorf("playlist tracks = %+v", tracks)
		}
		if status, _ := ts.do(t, http.MethodGet, "/api/playlists/9999/tracks", ""); status != http.StatusNotFound {
			t.Errorf("missing playlist status = %d, want 404", status)
		}
	})

	t.Run("database", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/api/database/stats", "")
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		stats := decode[models.Stats](t, body)
		if stats.Tracks != 3 || stats.Playlists != 1 || stats.Path != ts.catalog.Path() {
			t.Errorf("stats = %+v", stats)
		}

		status, body = ts.do(t, http.MethodPost, "/api/database/vacuum", "")
		if status != http.StatusOK || !strings.Contains(body, `"success":true`) {
			t.Errorf("vacuum = %d %s", status, body)
		}
	})

	t.Run("delete track", func(t *testing.T) {
		if status, _ := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/tracks/%d", first), ""); status != http.StatusNoContent {
			t.Errorf("delete status = %d, want 204", status)
		}
		if status, _ := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/tracks/%d", first), ""); status != http.StatusNotFound {
			t.Errorf("second delete status = %d, want 404", status)
		}
	})
}

func TestRekordboxRoutes(t *testing.T) {
	t.Run("import before connect", func(t *testing.T) {
		ts := newTestServer(t, Options{})
		for _, path := range []string{"/api/rekordbox/import", "/api/rekordbox/import-playlists"} {
			status, body := ts.do(t, http.MethodPost, path, "")
			if status != http.StatusConflict || !strings.Contains(body, "not connected") {
				t.Errorf("POST %s = %d %s", path, status, body)
			}
		}
	})

	t.Run("connect preconditions", func(t *testing.T) {
		ts := newTestServer(t, Options{})
		master := writeMaster(t)

		tests := []struct {
			name string
			body string
			want string
		}{
			{"missing file", fmt.Sprintf(`{"db_path":%q,"db_key":%q}`, filepath.Join(t.TempDir(), "x.db"), testKey), "not found"},
			{"bad key", fmt.Sprintf(`{"db_path":%q,"db_key":"short"}`, master), "Expected 64 character hex string"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				status, body := ts.do(t, http.MethodPost, "/api/rekordbox/connect", tt.body)
				if status != http.StatusBadRequest || !strings.Contains(body, tt.want) || !strings.Contains(body, `"success":false`) {
					t.Errorf("connect = %d %s", status, body)
				}
			})
		}
		if _, ok := ts.srv.Source(); ok {
			t.Error("failed connect should not record a source")
		}
	})

	t.Run("connect then import", func(t *testing.T) {
		ts := newTestServer(t, Options{})
		body := fmt.Sprintf(`{"db_path":%q,"db_key":%q}`, writeMaster(t), testKey)

		status, resp := ts.do(t, http.MethodPost, "/api/rekordbox/connect", body)
		if status != http.StatusOK {
			t.Fatalf("connect = %d %s", status, resp)
		}
		connected := decode[connectBody](t, resp)
		if !connected.Success || connected.Tracks != 2 || connected.Strategy != rekordbox.StrategyDirect {
			t.Errorf("connect body = %+v", connected)
		}

		status, resp = ts.do(t, http.MethodPost, "/api/rekordbox/import", "")
		if status != http.StatusOK {
			t.Fatalf("import = %d %s", status, resp)
		}
		imported := decode[trackImportBody](t, resp)
		if imported.Added != 2 || imported.Count != 2 || imported.RunID == "" {
			t.Errorf("import body = %+v", imported)
		}

		_, resp = ts.do(t, http.MethodPost, "/api/rekordbox/import", "")
		if again := decode[trackImportBody](t, resp); again.Added != 0 || again.Updated != 2 {
			t.Errorf("re-import body = %+v, want 2 updated", again)
		}

		status, resp = ts.do(t, http.MethodPost, "/api/rekordbox/import-playlists", "")
		if status != http.StatusOK {
			t.Fatalf("import-playlists = %d %s", status, resp)
		}
		if got := decode[playlistImportBody](t, resp); got.Imported != 1 || got.TracksLinked != 2 {
			t.Errorf("import-playlists body = %+v", got)
		}

		_, resp = ts.do(t, http.MethodGet, "/api/tracks?search=daft", "")
		tracks := decode[trackListBody](t, resp)
		if tracks.Total != 1 || tracks.Items[0].Title != "One More Time" || tracks.Items[0].ExternalID != "10" {
			t.Errorf("imported tracks = %+v", tracks.Items)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("rate limit", func(t *testing.T) {
		ts := newTestServer(t, Options{RateLimit: 0.001, Burst: 2})

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			status, _ := ts.do(t, http.MethodGet, "/api/health", "")
			codes = append(codes, status)
		}
		if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
			t.Errorf("statuses = %v, want [200 200 429]", codes)
		}
	})

	t.Run("no limit", func(t *testing.T) {
		ts := newTestServer(t, Options{})
		for i := 0; i < 20; i++ {
			if status, _ := ts.do(t, http.MethodGet, "/api/health", ""); status != http.StatusOK {
				t.Fatalf("request %d status = %d", i, status)
			}
		}
	})

	t.Run("recover", func(t *testing.T) {
		router := NewBasicRouter()
		router.Use(Recover(shared.DiscardLogger()))
		router.HandleFunc(http.MethodGet, "/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewBasicRouter()
		router.Use(mark("first"), mark("second"))
		router.HandleFunc(http.MethodGet, "/", func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("order = %v", order)
		}
	})
}

func TestListenAndServe(t *testing.T) {
	catalog := th.MustOpenCatalog(t)
	engine := tasks.NewEngine(catalog, tasks.EngineOpts{})
	srv := New(catalog, engine, rekordbox.Options{}, Options{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("ListenAndServe() did not stop after cancellation")
	}
}
