package hotelwatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"hotelwatch-backend/lib/serviceutil"
)

type toggleRequest struct {
	Active *bool `json:"active"`
}

type toggleResponse struct {
	Active bool `json:"active"`
}

type healthResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	LastRun       *RunView `json:"last_run"`
}

// NewHandler exposes health and status publicly, the scrape controls
// require apiKey.
func NewHandler(s *Service, apiKey string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		report, err := s.Status(r.Context())
		if err != nil {
			serviceutil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:        "degraded",
				UptimeSeconds: report.UptimeSeconds,
			})
			return
		}
		serviceutil.WriteJSON(w, http.StatusOK, healthResponse{
			Status:        "ok",
			UptimeSeconds: report.UptimeSeconds,
			LastRun:       report.LastRun,
		})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		report, err := s.Status(r.Context())
		if err != nil {
			serviceutil.WriteError(w, http.StatusInternalServerError, err)
			return
		}
		serviceutil.WriteJSON(w, http.StatusOK, report)
	})

	mux.Handle("POST /scrape/trigger", serviceutil.RequireApiKey(apiKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled(r.Context()) {
			serviceutil.WriteError(w, http.StatusConflict, ErrScraperDisabled)
			return
		}
		if s.Running() {
			serviceutil.WriteError(w, http.StatusConflict, ErrAlreadyRunning)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		go func() {
			_, err := s.RunOnce(ctx)
			if err != nil {
				slog.WarnContext(ctx, "triggered scrape did not run", "err", err)
			}
		}()
		serviceutil.WriteJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})))

	mux.Handle("POST /scrape/toggle", serviceutil.RequireApiKey(apiKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req toggleRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			serviceutil.WriteError(w, http.StatusBadRequest, err)
			return
		}

		active := !s.Enabled(r.Context())
		if req.Active != nil {
			active = *req.Active
		}
		err = s.SetEnabled(r.Context(), active)
		if err != nil {
			serviceutil.WriteError(w, http.StatusInternalServerError, err)
			return
		}
		serviceutil.WriteJSON(w, http.StatusOK, toggleResponse{Active: active})
	})))

	return mux
}
