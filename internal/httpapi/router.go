package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
)

// NewRouter wires the bootstrapping HTTP surface: session creation, join,
// reconnect, and health checks, following the teacher's NewRouter shape
// (a plain http.ServeMux, methodGuard-wrapped handlers, a 404 fallback).
func NewRouter(logger *slog.Logger, health *HealthState, h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/health", methodGuard(http.MethodGet, healthLiveHandler()))
	mux.Handle("/health/live", methodGuard(http.MethodGet, healthLiveHandler()))
	mux.Handle("/health/ready", methodGuard(http.MethodGet, healthReadyHandler(health)))

	mux.Handle("/sessions", methodGuard(http.MethodPost, http.HandlerFunc(h.CreateSession)))

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
		if strings.HasSuffix(rest, "/ws") {
			if r.Method != http.MethodGet {
				w.Header().Set("Allow", http.MethodGet)
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			sessionID := strings.TrimSuffix(rest, "/ws")
			h.ServeWS(w, r, sessionID)
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch {
		case strings.HasSuffix(rest, "/join"):
			joinCode := strings.TrimSuffix(rest, "/join")
			h.Join(w, r, joinCode)
		case strings.HasSuffix(rest, "/reconnect"):
			sessionID := strings.TrimSuffix(rest, "/reconnect")
			h.Reconnect(w, r, sessionID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("not found"))
		if err != nil {
			logger.Error("write_response_failed", slog.Any("err", err))
		}
	})

	return mux
}

func healthLiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func healthReadyHandler(health *HealthState) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !health.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
