package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/metrics"
	"outage-tracker/pkg/tracker"
)

// Server represents the HTTP server for the tracker API.
type Server struct {
	logger     *logrus.Logger
	handlers   *Handlers
	corsOrigin string
	hmacSecret []byte
	metrics    *metrics.Metrics
	httpServer *http.Server
}

// NewServer creates a new Server instance
func NewServer(
	db *gorm.DB,
	manager *tracker.Manager,
	reconciler *tracker.Reconciler,
	chatClient *chat.Client,
	m *metrics.Metrics,
	logger *logrus.Logger,
	corsOrigin string,
	hmacSecret []byte,
) *Server {
	return &Server{
		logger:     logger,
		handlers:   NewHandlers(logger, db, manager, reconciler, chatClient, m),
		corsOrigin: corsOrigin,
		hmacSecret: hmacSecret,
		metrics:    m,
	}
}

type route struct {
	path      string
	method    string
	handler   func(http.ResponseWriter, *http.Request)
	protected bool
}

func (s *Server) setupRoutes() http.Handler {
	routes := []route{
		{
			path:      "/health",
			method:    http.MethodGet,
			handler:   s.handlers.HealthJSON,
			protected: false,
		},
		{
			path:      "/healthz/ready",
			method:    http.MethodGet,
			handler:   s.handlers.ReadyJSON,
			protected: false,
		},
		{
			path:      "/api/outages",
			method:    http.MethodGet,
			handler:   s.handlers.ListOutagesJSON,
			protected: false,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}",
			method:    http.MethodGet,
			handler:   s.handlers.GetOutageJSON,
			protected: false,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}/notes",
			method:    http.MethodGet,
			handler:   s.handlers.GetChangeNotesJSON,
			protected: false,
		},
		{
			path:      "/api/monitors",
			method:    http.MethodGet,
			handler:   s.handlers.ListMonitorsJSON,
			protected: false,
		},
		{
			path:      "/api/outages",
			method:    http.MethodPost,
			handler:   s.handlers.CreateOutageJSON,
			protected: true,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}",
			method:    http.MethodPatch,
			handler:   s.handlers.UpdateOutageJSON,
			protected: true,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}/eta",
			method:    http.MethodPost,
			handler:   s.handlers.SetETAJSON,
			protected: true,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}/resolve",
			method:    http.MethodPost,
			handler:   s.handlers.ResolveOutageJSON,
			protected: true,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}/reopen",
			method:    http.MethodPost,
			handler:   s.handlers.ReopenOutageJSON,
			protected: true,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}/report",
			method:    http.MethodPost,
			handler:   s.handlers.AttachReportJSON,
			protected: true,
		},
		{
			path:      "/api/outages/{outageId:[0-9]+}/channel",
			method:    http.MethodPost,
			handler:   s.handlers.CreateDedicatedChannelJSON,
			protected: true,
		},
		{
			// Monitoring providers sign nothing; the route stays outside the
			// proxy auth and is idempotent on retries.
			path:      "/api/integrations/{provider}/alert",
			method:    http.MethodPost,
			handler:   s.handlers.AlertWebhookJSON,
			protected: false,
		},
	}

	router := mux.NewRouter()
	protectedRouter := router.Name("protected").Subrouter()
	protectedRouter.Use(func(next http.Handler) http.Handler {
		return newAuthMiddleware(s.logger, s.hmacSecret, next)
	})

	for _, route := range routes {
		if route.protected {
			protectedRouter.HandleFunc(route.path, route.handler).Methods(route.method)
		} else {
			router.HandleFunc(route.path, route.handler).Methods(route.method)
		}
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{s.corsOrigin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Forwarded-User", "X-Forwarded-Email", "GAP-Signature"}),
		handlers.AllowCredentials(),
	)(router)

	return s.loggingMiddleware(corsHandler)
}

// statusRecorder captures the response status code for request logging and
// metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		s.metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(recorder.status)).Inc()
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   recorder.status,
			"duration": time.Since(start),
		}).Info("Request processed")
	})
}

// Start begins listening for HTTP requests on the specified address.
func (s *Server) Start(addr string) error {
	handler := s.setupRoutes()
	s.logger.Infof("Starting tracker server on %s", addr)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down tracker server")
	return s.httpServer.Shutdown(ctx)
}
