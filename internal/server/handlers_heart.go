package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/milnet2/coxswain/internal/heart"
)

const (
	defaultScanSeconds = 5
	maxScanSeconds     = 30
)

// scanCollector gathers the sensors seen during one scan.
type scanCollector struct {
	mu      sync.Mutex
	order   []string
	sensors map[string]heart.Advertisement
}

func (c *scanCollector) Found(a heart.Advertisement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sensors[a.Address]; !ok {
		c.order = append(c.order, a.Address)
	}
	c.sensors[a.Address] = a
}

func (c *scanCollector) Lost(string, time.Time) {}

func (c *scanCollector) list() []heart.Advertisement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]heart.Advertisement, 0, len(c.order))
	for _, addr := range c.order {
		out = append(out, c.sensors[addr])
	}
	return out
}

func (s *Server) handleHeartScan(w http.ResponseWriter, r *http.Request) {
	seconds := defaultScanSeconds
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxScanSeconds {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seconds must be between 1 and 30"})
			return
		}
		seconds = n
	}

	c := &scanCollector{sensors: make(map[string]heart.Advertisement)}
	stop, err := s.scanner.Scan(c)
	if err != nil {
		writeHeartError(w, err)
		return
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-r.Context().Done():
	}
	stop()
	writeJSON(w, http.StatusOK, c.list())
}

type findRequest struct {
	ID             string `json:"id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (s *Server) handleHeartFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > maxScanSeconds*time.Second {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	f := s.scanner.Find(req.ID)
	dev, err := f.Wait(ctx)
	if err != nil {
		f.Cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "sensor not found"})
			return
		}
		writeHeartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func writeHeartError(w http.ResponseWriter, err error) {
	if errors.Is(err, heart.ErrNoAdapter) || errors.Is(err, heart.ErrRadioDisabled) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
