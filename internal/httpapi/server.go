package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/ent0n29/llmchat/internal/chat"
	"github.com/ent0n29/llmchat/internal/config"
	"github.com/ent0n29/llmchat/internal/inference"
	"github.com/ent0n29/llmchat/internal/observability"
	"github.com/ent0n29/llmchat/internal/session"
)

// ModelLister reports the models the inference backend can serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]inference.ModelInfo, error)
}

// ReadinessCheck returns nil when a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	cfg        config.Config
	store      *session.Store
	controller *chat.Controller
	models     ModelLister
	metrics    *observability.Metrics
	checks     map[string]ReadinessCheck
	upgrader   websocket.Upgrader
	static     http.Handler

	// wsReadTimeout closes a socket that sends nothing, not even a pong,
	// for this long. wsPingInterval must stay below it.
	wsReadTimeout  time.Duration
	wsPingInterval time.Duration
}

const (
	defaultWSReadTimeout  = 120 * time.Second
	defaultWSPingInterval = 30 * time.Second
)

func New(cfg config.Config, store *session.Store, controller *chat.Controller, models ModelLister, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		controller: controller,
		models:     models,
		metrics:    metrics,
		checks:     make(map[string]ReadinessCheck),
		static:     newStaticHandler(),

		wsReadTimeout:  defaultWSReadTimeout,
		wsPingInterval: defaultWSPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a chat socket unless opened up.
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

// AddReadinessCheck registers a dependency checked by /readyz.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

// Handler is the router, wrapped with permissive CORS when cross-origin
// clients are allowed. The embedded UI is same-origin and needs none.
func (s *Server) Handler() http.Handler {
	if !s.cfg.AllowAnyOrigin {
		return s.Router()
	}
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.Router())
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/models", s.handleListModels)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Delete("/", s.handleClearSessions)
		r.Get("/ws", s.handleSessionWS)
		r.Get("/{id}", s.handleGetSession)
		r.Patch("/{id}", s.handleRenameSession)
		r.Delete("/{id}", s.handleDeleteSession)
		r.Post("/{id}/turns", s.handleSubmitTurn)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"default_model": s.cfg.DefaultModel,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	respondJSON(w, status, map[string]any{
		"status": state,
		"checks": results,
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		respondJSON(w, http.StatusOK, map[string]any{"models": []inference.ModelInfo{}, "default": s.cfg.DefaultModel})
		return
	}
	models, err := s.models.ListModels(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "inference_unavailable", err.Error())
		return
	}
	if models == nil {
		models = []inference.ModelInfo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"models": models, "default": s.cfg.DefaultModel})
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

// respondStoreError maps session errors onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, session.ErrInvalidTurn):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
