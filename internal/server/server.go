package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/heart"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/session"
	"github.com/milnet2/coxswain/internal/storage"
)

// WorkoutSource is the workout history, usually a *storage.DB.
type WorkoutSource interface {
	QueryWorkouts(ctx context.Context, start, end time.Time) ([]models.WorkoutRow, error)
	GetWorkout(ctx context.Context, id uuid.UUID) (*storage.WorkoutDetail, error)
}

// DeviceOpener returns the rowing machine at path, or the configured
// default for an empty path. A nil device selects the simulator.
type DeviceOpener func(path string) (rower.Device, error)

// Options holds the dependencies of a Server. Manager and Store are
// required.
type Options struct {
	Manager *session.Manager
	Store   *storage.Store
	// History is nil when no history database is configured.
	History WorkoutSource
	Scanner *heart.Scanner
	Devices DeviceOpener
	// MCP is mounted at /mcp when set.
	MCP    http.Handler
	APIKey string
	Log    *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	manager *session.Manager
	store   *storage.Store
	history WorkoutSource
	scanner *heart.Scanner
	devices DeviceOpener
	mcp     http.Handler
	log     *slog.Logger
	apiKey  string
	router  chi.Router

	identity func(http.Handler) http.Handler
}

// New creates a new Server with all routes configured.
func New(opts Options) *Server {
	s := &Server{
		manager:  opts.Manager,
		store:    opts.Store,
		history:  opts.History,
		scanner:  opts.Scanner,
		devices:  opts.Devices,
		mcp:      opts.MCP,
		log:      opts.Log,
		apiKey:   opts.APIKey,
		router:   chi.NewRouter(),
		identity: DevIdentity,
	}
	if s.scanner == nil {
		s.scanner = heart.NewScanner(nil, 0, s.log)
	}
	s.routes()
	return s
}

// SetTailscale identifies callers through the tailnet instead of treating
// everyone as the local user.
func (s *Server) SetTailscale(lc WhoIser) {
	s.identity = TailscaleIdentity(lc, s.log)
}

// identify applies the identity middleware chosen at setup time.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.identity(next).ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.identify)
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	// Read-only endpoints (no auth, tsnet handles access)
	s.router.Get("/api/v1/me", s.handleMe)
	s.router.Get("/api/v1/status", s.handleStatus)
	s.router.Get("/api/v1/events", s.handleEvents)
	s.router.Get("/api/v1/programs", s.handleListPrograms)
	s.router.Get("/api/v1/programs/{id}", s.handleGetProgram)
	s.router.Get("/api/v1/settings", s.handleGetSettings)
	s.router.Get("/api/v1/workouts", s.handleQueryWorkouts)
	s.router.Get("/api/v1/workouts/{id}", s.handleGetWorkout)
	s.router.Get("/api/v1/workouts/{id}/fit", s.handleExportWorkout)
	s.router.Get("/api/v1/heart/scan", s.handleHeartScan)

	// Mutating endpoints, guarded when an API key is configured
	s.router.Group(func(r chi.Router) {
		if s.apiKey != "" {
			r.Use(APIKeyAuth(s.apiKey))
		}
		r.Post("/api/v1/session", s.handleStartSession)
		r.Delete("/api/v1/session", s.handleStopSession)
		r.Post("/api/v1/programs", s.handleSaveProgram)
		r.Delete("/api/v1/programs/{id}", s.handleDeleteProgram)
		r.Post("/api/v1/programs/{id}/select", s.handleSelectProgram)
		r.Delete("/api/v1/selection", s.handleDeselect)
		r.Put("/api/v1/settings", s.handlePutSettings)
		r.Post("/api/v1/heart/find", s.handleHeartFind)
		if s.mcp != nil {
			r.Mount("/mcp", s.mcp)
		}
	})
}
