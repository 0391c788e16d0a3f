// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MustOpenCatalog opens a migrated catalog in a temp directory, closed on cleanup.
func MustOpenCatalog(t *testing.T) *repositories.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	catalog, err := repositories.OpenCatalog(context.Background(), path, repositories.CatalogOpts{})
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

// MustSession acquires a catalog session, released on cleanup.
func MustSession(t *testing.T, catalog *repositories.Catalog) *repositories.Session {
	t.Helper()
	s, err := catalog.Session(context.Background())
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// MustAddTrack inserts a track and returns its ID.
func MustAddTrack(t *testing.T, s *repositories.Session, in models.TrackInput) int64 {
	t.Helper()
	id, err := s.AddTrack(context.Background(), in)
	if err != nil {
		t.Fatalf("Failed to add track %q: %v", in.Title, err)
	}
	return id
}

// MustAddPlaylist inserts a playlist and returns its ID.
func MustAddPlaylist(t *testing.T, s *repositories.Session, in models.PlaylistInput) int64 {
	t.Helper()
	id, err := s.AddPlaylist(context.Background(), in)
	if err != nil {
		t.Fatalf("Failed to add playlist %q: %v", in.Name, err)
	}
	return id
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
