package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/milnet2/coxswain/internal/fitexport"
	"github.com/milnet2/coxswain/internal/history"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/milnet2/coxswain/internal/storage"
)

func (s *Server) handleQueryWorkouts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "workout history not configured"})
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid time range: " + err.Error()})
		return
	}
	workouts, err := s.history.QueryWorkouts(r.Context(), start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if workouts == nil {
		workouts = []models.WorkoutRow{}
	}
	writeJSON(w, http.StatusOK, workouts)
}

func (s *Server) handleGetWorkout(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.workout(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleExportWorkout(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.workout(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	err := fitexport.Encode(&buf, &history.Workout{WorkoutRow: detail.WorkoutRow, Samples: detail.Samples})
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.ant.fit")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.fit"`, detail.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) workout(w http.ResponseWriter, r *http.Request) (*storage.WorkoutDetail, bool) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "workout history not configured"})
		return nil, false
	}
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}
	detail, err := s.history.GetWorkout(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "workout not found"})
			return nil, false
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	return detail, true
}
