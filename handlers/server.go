package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"zen.app/cloud/internal/logger"
	"zen.app/cloud/internal/ratelimit"
	"zen.app/cloud/licensing"
	"zen.app/cloud/payments"
)

type Options struct {
	Version           string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type Server struct {
	Router   chi.Router
	Licenses *licensing.Service
	Verifier payments.Verifier

	version string
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewHttpServer(svc *licensing.Service, verifier payments.Verifier, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 20
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}

	s := &Server{
		Router:   chi.NewRouter(),
		Licenses: svc,
		Verifier: verifier,
		version:  opts.Version,
	}

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})

	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(sentryHandler.Handle)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	limited := ratelimit.Middleware(ratelimit.New(opts.RateLimitRequests, opts.RateLimitWindow), opts.RateLimitWindow)

	r.Get("/health", s.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tiers", s.Tiers)
		r.Get("/early-adopter/slots", s.EarlyAdopterSlots)
		r.Post("/webhooks/stripe", s.Stripe)

		r.Route("/licenses", func(r chi.Router) {
			r.With(limited).Post("/validate", s.ValidateLicense)
			r.Get("/session", s.LicenseFromSession)
			r.With(limited).Post("/recover", s.RecoverLicenses)
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// reportError logs a server-side failure and forwards it to Sentry.
func reportError(r *http.Request, message string, err error, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"error":      err.Error(),
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	}
	logger.Error(message, entry, fields)

	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
