package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/profileswitch/internal/config"
	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/notify"
	"github.com/ent0n29/profileswitch/internal/observability"
	"github.com/ent0n29/profileswitch/internal/profile"
	"github.com/ent0n29/profileswitch/internal/profiles"
)

// EventSource streams profile lifecycle events.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan notify.Event, error)
}

type Server struct {
	cfg      config.Config
	svc      *profiles.Service
	host     *host.MemoryHost
	events   EventSource
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, svc *profiles.Service, liveHost *host.MemoryHost, events EventSource, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		host:    liveHost,
		events:  events,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/admin/store-stats", s.handleStoreStats)
	r.Get("/v1/events/ws", s.handleEventsWS)

	r.Route("/v1/owners/{owner}", func(r chi.Router) {
		r.Post("/load", s.handleLoadOwner)
		r.Post("/unload", s.handleUnloadOwner)
		r.Get("/profiles", s.handleListProfiles)
		r.Post("/profiles", s.handleCreateProfile)
		r.Delete("/profiles/{name}", s.handleDeleteProfile)
		r.Get("/active", s.handleActiveProfile)
		r.Post("/switch", s.handleSwitch)
		r.Get("/status", s.handleStatus)
		r.Post("/save", s.handleSaveState)
		r.Get("/state", s.handleGetState)
		r.Put("/state", s.handlePutState)
		r.Post("/signals", s.handleSignal)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"storage_backend": s.cfg.StorageBackend,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	stats := s.svc.StoreStats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"loaded_owners": s.svc.LoadedOwners(),
		"pool_size":     stats.PoolSize,
		"queued_saves":  stats.Queued,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, profile.ErrOwnerNotFound):
		return http.StatusNotFound, "owner_not_loaded"
	case errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound, "profile_not_found"
	case errors.Is(err, profile.ErrDuplicate):
		return http.StatusConflict, "duplicate_profile"
	case errors.Is(err, profile.ErrAlreadyActive):
		return http.StatusConflict, "already_active"
	case errors.Is(err, profile.ErrActiveProfile), errors.Is(err, profile.ErrDefaultProfile):
		return http.StatusConflict, "profile_protected"
	case errors.Is(err, profile.ErrLimitReached):
		return http.StatusForbidden, "limit_reached"
	case errors.Is(err, profile.ErrNotPermitted):
		return http.StatusForbidden, "not_permitted"
	case errors.Is(err, profile.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, profile.ErrInCombat):
		return http.StatusLocked, "in_combat"
	case errors.Is(err, profile.ErrSwitching):
		return http.StatusConflict, "already_switching"
	case errors.Is(err, profile.ErrRestricted):
		return http.StatusConflict, "restricted"
	case errors.Is(err, profile.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	respondError(w, status, code, err.Error())
}

// respondResult renders a service Result. A refusal without a typed error
// came from a listener veto or a cancelled switch.
func respondResult(w http.ResponseWriter, status int, res profiles.Result, body any) {
	switch {
	case res.OK:
		respondJSON(w, status, body)
	case res.Err != nil:
		respondErr(w, res.Err)
	default:
		respondError(w, http.StatusConflict, "cancelled", res.Reason)
	}
}

func awaitResult(ctx context.Context, ch <-chan profiles.Result) profiles.Result {
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return profiles.Result{Reason: ctx.Err().Error(), Err: ctx.Err()}
	}
}
