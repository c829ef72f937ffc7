package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/cmd/coleta/handlers"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/pending"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync/connectivity"
)

// eventHub serves the WebSocket stream and accepts broadcasts.
type eventHub interface {
	http.Handler
	handlers.Broadcaster
}

// server holds what the HTTP routes need.
type server struct {
	allowedOrigins []string
	store          pending.Store
	syncer         handlers.Syncer
	discarder      handlers.FailedDiscarder
	monitor        *connectivity.Monitor
	history        handlers.ErrorHistory
	notifications  handlers.NotificationHistory
	hub            eventHub
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	if len(s.allowedOrigins) > 0 {
		r.Use(corsMiddleware(s.allowedOrigins))
	}

	r.Get("/health", s.health)

	surveys := handlers.NewSurveyHandler(s.store, s.syncer, s.monitor, s.hub)
	if s.discarder != nil {
		surveys.SetDiscarder(s.discarder)
	}
	r.Route("/surveys", func(r chi.Router) {
		r.Post("/", surveys.Create)

		r.Get("/pending", surveys.ListPending)
		r.Delete("/pending", surveys.ClearPending)
		r.Get("/pending/{id}", surveys.GetPending)
		r.Delete("/pending/{id}", surveys.RemovePending)

		r.Get("/failed", surveys.ListFailed)
		r.Post("/failed/{id}/requeue", surveys.RequeueFailed)
		r.Delete("/failed/{id}", surveys.DiscardFailed)
	})

	syncH := handlers.NewSyncHandler(s.syncer, s.monitor, s.history)
	r.Post("/sync", syncH.TriggerSync)
	r.Get("/sync/status", syncH.GetStatus)

	conn := handlers.NewConnectivityHandler(s.monitor)
	r.Get("/connectivity", conn.Get)
	r.Post("/connectivity", conn.Report)

	r.Get("/notifications", handlers.NewNotificationHandler(s.notifications).List)
	r.Handle("/ws", s.hub)

	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	n, err := s.store.Count(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","service":"coleta"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "coleta",
		"online":  s.monitor.IsOnline(),
		"pending": n,
	})
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("http request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		})
	})
}
