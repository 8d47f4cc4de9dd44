package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/storage"
	"github.com/milnet2/coxswain/internal/workout"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

type startSessionRequest struct {
	Device string `json:"device"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	var dev rower.Device
	if s.devices != nil {
		d, err := s.devices(req.Device)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		dev = d
	}
	s.log.Info("session requested", "user", userInfoFromContext(r).Login, "device", req.Device)
	s.manager.Start(dev)
	writeJSON(w, http.StatusAccepted, s.manager.Status())
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	s.log.Info("session stop requested", "user", userInfoFromContext(r).Login)
	s.manager.Stop()
	writeJSON(w, http.StatusAccepted, s.manager.Status())
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := s.store.Programs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, programs)
}

func (s *Server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	p, ok := s.program(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSaveProgram(w http.ResponseWriter, r *http.Request) {
	var p workout.Program
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := s.store.SaveProgram(r.Context(), &p); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workout.ErrEmptyProgram) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeleteProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteProgram(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	if p := s.manager.Program(); p != nil && p.ID == id {
		s.manager.Deselect()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectProgram(w http.ResponseWriter, r *http.Request) {
	p, ok := s.program(w, r)
	if !ok {
		return
	}
	if err := s.manager.Select(p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleDeselect(w http.ResponseWriter, r *http.Request) {
	s.manager.Deselect()
	w.WriteHeader(http.StatusNoContent)
}

// settings is the body of GET and PUT /api/v1/settings. PUT leaves absent
// fields unchanged.
type settings struct {
	OpenEnd *bool `json:"open_end,omitempty"`
	HeadsUp *bool `json:"heads_up,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	openEnd, err := s.store.OpenEnd(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	headsUp, err := s.store.HeadsUp(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, settings{OpenEnd: &openEnd, HeadsUp: &headsUp})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.OpenEnd != nil {
		if err := s.store.SetOpenEnd(r.Context(), *req.OpenEnd); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.HeadsUp != nil {
		if err := s.store.SetHeadsUp(r.Context(), *req.HeadsUp); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	s.handleGetSettings(w, r)
}

// program loads the program named by the {id} URL parameter.
func (s *Server) program(w http.ResponseWriter, r *http.Request) (*workout.Program, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}
	p, err := s.store.Program(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	return p, true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 30 days
		end = time.Now()
		start = end.AddDate(0, 0, -30)
		return
	}

	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if endStr == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End of day for date-only
			end = end.Add(24 * time.Hour)
		}
	}
	return
}
