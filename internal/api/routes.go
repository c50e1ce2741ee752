package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/showgayaki/camenashi-kun/internal/flags"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(NoStoreMiddleware)

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Token, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/incidents", listIncidentsHandler(cfg))
		r.Get("/incidents/{id}", getIncidentHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{Snapshot: cfg.Status.Snapshot()}

		if cfg.Flags != nil {
			snap, err := flags.Snapshot(ctx, cfg.Flags)
			if err != nil {
				cfg.Logger.Warn("failed to read flags", "error", err)
			} else {
				resp.Flags = snap
			}
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(ctx)
			if err == nil && caps != nil {
				deps := &DepsResponse{Executables: caps.Executables, AllOK: caps.AllOK()}
				if !caps.ProbedAt.IsZero() {
					deps.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.Deps = deps
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listIncidentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := cfg.Incidents.List()

		if s := r.URL.Query().Get("limit"); s != "" {
			limit, err := strconv.Atoi(s)
			if err != nil || limit < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			if limit < len(items) {
				items = items[:limit]
			}
		}

		WriteJSON(w, http.StatusOK, IncidentsResponse{Incidents: items})
	}
}

func getIncidentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		for _, inc := range cfg.Incidents.List() {
			if inc.ID == id {
				WriteJSON(w, http.StatusOK, inc)
				return
			}
		}
		WriteError(w, http.StatusNotFound, "incident not found", "NOT_FOUND")
	}
}
