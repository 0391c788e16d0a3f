package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type errorBody struct {
	Detail string `json:"detail"`
}

type listBody[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type trackListBody struct {
	Items []models.Track `json:"items"`
	Total int            `json:"total"`
	Skip  int            `json:"skip"`
	Limit int            `json:"limit"`
}

// statusBody mirrors the success/message envelope of the connect and import endpoints.
type statusBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type connectRequest struct {
	Path string `json:"db_path"`
	Key  string `json:"db_key"`
}

type connectBody struct {
	statusBody
	Strategy rekordbox.Strategy `json:"strategy,omitempty"`
	Tracks   int                `json:"track_count,omitempty"`
}

type trackImportBody struct {
	statusBody
	RunID   string `json:"run_id"`
	Count   int    `json:"count"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
}

type playlistImportBody struct {
	statusBody
	RunID         string `json:"run_id"`
	Imported      int    `json:"imported"`
	Folders       int    `json:"folders"`
	TracksLinked  int    `json:"tracks_linked"`
	TracksDropped int    `json:"tracks_dropped"`
}

type tagRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"app": "crate", "version": Version, "status": "Running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	skip, err := queryInt(q.Get("skip"), 0)
	if err != nil || skip < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "skip must be a non-negative integer"})
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultPageLimit)
	if err != nil || limit < 1 || limit > maxPageLimit {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: fmt.Sprintf("limit must be between 1 and %d", maxPageLimit)})
		return
	}

	s.withSession(w, r, func(sess *repositories.Session) error {
		page, err := sess.ListTracks(r.Context(), models.TrackQuery{Offset: skip, Limit: limit, Search: q.Get("search")})
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, trackListBody{Items: page.Tracks, Total: page.Total, Skip: page.Offset, Limit: page.Limit})
		return nil
	})
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.withSession(w, r, func(sess *repositories.Session) error {
		track, err := sess.GetTrack(r.Context(), id)
		if err != nil {
			return err
		}
		if track == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Detail: "Track not found"})
			return nil
		}
		writeJSON(w, http.StatusOK, track)
		return nil
	})
}

func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.withSession(w, r, func(sess *repositories.Session) error {
		if err := sess.DeleteTrack(r.Context(), id); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

func (s *Server) handleTagTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.withSession(w, r, func(sess *repositories.Session) error {
		track, err := sess.GetTrack(r.Context(), id)
		if err != nil {
			return err
		}
		if track == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Detail: "Track not found"})
			return nil
		}

		tagID, err := sess.AddTag(r.Context(), req.Name)
		if err != nil {
			return err
		}
		if err := sess.AddTagToTrack(r.Context(), id, tagID); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, models.Tag{ID: tagID, Name: req.Name})
		return nil
	})
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *repositories.Session) error {
		playlists, err := sess.ListPlaylists(r.Context())
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, listBody[models.Playlist]{Items: playlists, Total: len(playlists)})
		return nil
	})
}

func (s *Server) handlePlaylistTracks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.withSession(w, r, func(sess *repositories.Session) error {
		tracks, err := sess.PlaylistTracks(r.Context(), id)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, listBody[models.Track]{Items: tracks, Total: len(tracks)})
		return nil
	})
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *repositories.Session) error {
		tags, err := sess.ListTags(r.Context())
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, listBody[models.Tag]{Items: tags, Total: len(tags)})
		return nil
	})
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.withSession(w, r, func(sess *repositories.Session) error {
		id, err := sess.AddTag(r.Context(), req.Name)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, models.Tag{ID: id, Name: req.Name})
		return nil
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	src := rekordbox.Source{Path: req.Path, Key: req.Key}

	s.logger.Info("connecting to rekordbox", "path", src.Path, "key", shared.RedactKey(src.Key))
	probe, err := rekordbox.Probe(r.Context(), src, s.rbOpts)
	if err != nil {
		s.logger.Warn("rekordbox connect failed", "path", src.Path, "err", err)
		writeJSON(w, statusFor(err), connectBody{statusBody: statusBody{Message: connectMessage(err)}})
		return
	}

	s.SetSource(src)
	writeJSON(w, http.StatusOK, connectBody{
		statusBody: statusBody{Success: true, Message: "Successfully connected to Rekordbox database"},
		Strategy:   probe.Strategy,
		Tracks:     probe.Tracks,
	})
}

func (s *Server) handleImportTracks(w http.ResponseWriter, r *http.Request) {
	src, ok := s.Source()
	if !ok {
		writeJSON(w, http.StatusConflict, statusBody{Message: "Rekordbox database not connected. Please connect first."})
		return
	}

	s.importMu.Lock()
	defer s.importMu.Unlock()

	result, err := s.engine.ImportTracks(r.Context(), src, nil)
	if err != nil {
		s.logger.Error("failed to import tracks", "err", err)
		msg := fmt.Sprintf("Failed to import tracks: %v", err)
		if errors.Is(err, shared.ErrNoTracks) {
			msg = "No tracks found in Rekordbox database."
		}
		writeJSON(w, statusFor(err), statusBody{Message: msg})
		return
	}

	count := result.Inserted + result.Updated
	writeJSON(w, http.StatusOK, trackImportBody{
		statusBody: statusBody{Success: true, Message: fmt.Sprintf("Successfully imported %d tracks from Rekordbox", count)},
		RunID:      result.RunID,
		Count:      count,
		Added:      result.Inserted,
		Updated:    result.Updated,
		Skipped:    result.Skipped,
	})
}

func (s *Server) handleImportPlaylists(w http.ResponseWriter, r *http.Request) {
	src, ok := s.Source()
	if !ok {
		writeJSON(w, http.StatusConflict, statusBody{Message: "Rekordbox database not connected. Please connect first."})
		return
	}

	s.importMu.Lock()
	defer s.importMu.Unlock()

	result, err := s.engine.ImportPlaylists(r.Context(), src, nil)
	if err != nil {
		s.logger.Error("failed to import playlists", "err", err)
		writeJSON(w, statusFor(err), statusBody{Message: fmt.Sprintf("Failed to import playlists: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, playlistImportBody{
		statusBody:    statusBody{Success: true, Message: fmt.Sprintf("Successfully imported %d playlists from Rekordbox", result.Imported)},
		RunID:         result.RunID,
		Imported:      result.Imported,
		Folders:       result.Folders,
		TracksLinked:  result.TracksLinked,
		TracksDropped: result.TracksDropped,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *repositories.Session) error {
		stats, err := sess.Stats(r.Context())
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, stats)
		return nil
	})
}

func (s *Server) handleVacuum(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *repositories.Session) error {
		if err := sess.Vacuum(r.Context()); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, statusBody{Success: true, Message: "Database optimized successfully"})
		return nil
	})
}

// writeError maps catalog and adapter errors onto a status code and a detail body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorBody{Detail: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrSourceMissing),
		errors.Is(err, shared.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrNoTracks):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func connectMessage(err error) string {
	switch {
	case errors.Is(err, shared.ErrSourceMissing):
		return fmt.Sprintf("Database file not found: %v", err)
	case errors.Is(err, shared.ErrInvalidKey):
		return "Invalid encryption key format. Expected 64 character hex string."
	default:
		return "Failed to connect to Rekordbox database. Check path and encryption key."
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
