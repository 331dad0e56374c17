package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/middleware"
	"github.com/admirer145/Chesslyze-sub001/internal/repository"
	"github.com/admirer145/Chesslyze-sub001/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Server exposes the import pipeline over HTTP: start/cancel/inspect
// syncs, paste PGN, list stored games, and a websocket progress feed.
type Server struct {
	imports *service.ImportService
	manager *ImportManager
	hub     *Hub
	logger  zerolog.Logger
}

func New(imports *service.ImportService, manager *ImportManager, hub *Hub, logger zerolog.Logger) *Server {
	return &Server{
		imports: imports,
		manager: manager,
		hub:     hub,
		logger:  logger.With().Str("component", "http_server").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/v1/ws", s.hub.ServeWS)

	r.Route("/v1/imports", func(r chi.Router) {
		r.Post("/pgn", s.handleImportPGN)
		r.Route("/{provider}/{username}", func(r chi.Router) {
			r.Post("/", s.handleStartSync)
			r.Get("/", s.handleSyncStatus)
			r.Delete("/", s.handleCancelSync)
		})
	})

	r.Get("/v1/games", s.handleListGames)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startSyncRequest struct {
	Mode      string  `json:"mode"`
	Since     int64   `json:"since"`
	Until     int64   `json:"until"`
	ImportTag *string `json:"importTag"`
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(chi.URLParam(r, "provider"))
	username := chi.URLParam(r, "username")
	if !provider.Valid() || provider == domain.ProviderPGN {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	var req startSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts := service.SyncOptions{
		Provider:  provider,
		Username:  username,
		Mode:      domain.ImportMode(req.Mode),
		Since:     req.Since,
		Until:     req.Until,
		ImportTag: req.ImportTag,
	}

	sessionID, err := s.manager.Start(opts)
	if errors.Is(err, ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "sync already running for this user")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": sessionID})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(chi.URLParam(r, "provider"))
	username := chi.URLParam(r, "username")

	checkpoint, err := s.imports.Checkpoint(r.Context(), provider, username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":    s.manager.Running(provider, username),
		"checkpoint": checkpoint,
	})
}

func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(chi.URLParam(r, "provider"))
	username := chi.URLParam(r, "username")

	if !s.manager.Cancel(provider, username) {
		writeError(w, http.StatusNotFound, "no sync running for this user")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

type importPGNRequest struct {
	PGN       string  `json:"pgn"`
	Hero      string  `json:"hero"`
	ImportTag *string `json:"importTag"`
}

func (s *Server) handleImportPGN(w http.ResponseWriter, r *http.Request) {
	var req importPGNRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PGN == "" {
		writeError(w, http.StatusBadRequest, "pgn is required")
		return
	}

	result, err := s.imports.ImportPGN(r.Context(), req.PGN, req.Hero, req.ImportTag)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.GameFilter{
		Provider:   domain.Provider(q.Get("provider")),
		Username:   q.Get("username"),
		SpeedClass: domain.SpeedClass(q.Get("speedClass")),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	games, err := s.imports.Games(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"games": games, "count": len(games)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
