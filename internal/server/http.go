package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zarvd/jwks-server/internal/discovery"
)

const AuthPath = "/auth"

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPServer exposes token issuance and key discovery over HTTP.
type HTTPServer struct {
	logger    *slog.Logger
	b         *Backend
	issuerURL string
	gatherer  prometheus.Gatherer
}

// NewHTTPServer creates the HTTP transport. When issuerURL is empty the
// discovery document derives the issuer from the request's host.
func NewHTTPServer(logger *slog.Logger, b *Backend, issuerURL string, gatherer prometheus.Gatherer) *HTTPServer {
	return &HTTPServer{
		logger:    logger,
		b:         b,
		issuerURL: issuerURL,
		gatherer:  gatherer,
	}
}

func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get(discovery.JWKSPath, s.JWKSHandler)
	r.Get(discovery.ConfigurationPath, s.ConfigurationHandler)
	r.Post(AuthPath, s.AuthHandler)
	return r
}

func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.b.Metrics.RequestLatency.WithLabelValues(route).Observe(elapsed.Seconds())

		s.logger.Debug("served request",
			slog.String("request-id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", elapsed),
		)
	})
}

// JWKSHandler serves the public keys valid at the time of the request.
func (s *HTTPServer) JWKSHandler(w http.ResponseWriter, _ *http.Request) {
	jwks := s.b.Publisher.Publish(s.b.now())
	s.b.Metrics.JWKSRequests.Inc()
	s.b.Metrics.PublishedKeys.Set(float64(len(jwks.Keys)))

	// Expiry is evaluated per request, so the document must not be cached.
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, jwks)
}

func (s *HTTPServer) ConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	issuer := s.issuerURL
	if issuer == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		issuer = scheme + "://" + r.Host
	}
	s.writeJSON(w, http.StatusOK, s.b.Publisher.Configuration(issuer))
}

// AuthHandler issues a token. With ?expired=true the token is signed by a
// key that is already expired.
func (s *HTTPServer) AuthHandler(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(
		slog.String("method", "Auth"),
		slog.String("request-id", middleware.GetReqID(r.Context())),
	)

	expired := false
	if v := r.URL.Query().Get("expired"); v != "" {
		var err error
		expired, err = strconv.ParseBool(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid value for expired: " + strconv.Quote(v)})
			return
		}
	}

	issued, err := s.b.Issuer.Issue(r.Context(), expired)
	if err != nil {
		logger.Error("failed to issue token", slog.Any("error", err))
		s.b.Metrics.IssueFailures.Inc()
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to issue token"})
		return
	}
	s.b.Metrics.TokensIssued.WithLabelValues("http", strconv.FormatBool(expired)).Inc()

	s.writeJSON(w, http.StatusOK, tokenResponse{Token: issued.Token})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
