package bill

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Server handles HTTP requests for bills
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
	metrics   http.Handler
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
		metrics:   promhttp.Handler(),
	}
	s.registerRoutes()
	return s
}

// SetMetricsHandler replaces the default Prometheus handler, e.g. with one
// bound to a private registry
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Bill Splitter"`)
			writeJSONError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /metrics", s.requireAuth(s.handleMetrics))

	s.mux.HandleFunc("POST /v1/bills/upload", s.requireAuth(s.handleUploadBill))
	s.mux.HandleFunc("POST /v1/bills/{bill_id}/claim", s.requireAuth(s.handleToggleClaim))
	s.mux.HandleFunc("GET /v1/bills/{bill_id}/image", s.requireAuth(s.handleGetBillImage))
	s.mux.HandleFunc("GET /v1/bills/{bill_id}/shares", s.requireAuth(s.handleGetShares))
	s.mux.HandleFunc("GET /v1/bills/{bill_id}", s.requireAuth(s.handleGetBill))
	s.mux.HandleFunc("GET /v1/bills", s.requireAuth(s.handleListBills))

	// image URLs handed to the model and the chat side must be fetchable without credentials
	s.mux.HandleFunc("GET /files/{key}", s.handleGetFile)

	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleRoot))
}

// Handler returns the mux wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           3600,
	}).Handler(s.mux)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
