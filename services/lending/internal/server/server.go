package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"booklending/internal/util"
	"booklending/services/lending/internal/app"
	"booklending/services/lending/internal/authgate"
)

const (
	maxQueryDepth       = 12
	maxGraphQLBodyBytes = 1 << 20
)

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Gate           *authgate.Gate
	RateLimiter    Limiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the GraphQL endpoint of the lending service.
type Server struct {
	app            *app.App
	gate           *authgate.Gate
	limiter        Limiter
	trustedProxies *util.TrustedProxies
	graphql        http.Handler
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("auth gate required")
	}
	schema, err := graphql.ParseSchema(schemaSDL, &rootResolver{app: cfg.App}, graphql.MaxDepth(maxQueryDepth))
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		gate:           cfg.Gate,
		limiter:        cfg.RateLimiter,
		trustedProxies: cfg.TrustedProxies,
		graphql:        &relay.Handler{Schema: schema},
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/graphql", s.withRateLimit(s.withViewer(http.HandlerFunc(s.handleGraphQL))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxGraphQLBodyBytes)
	s.graphql.ServeHTTP(w, r)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.Context(), "graphql:"+util.ClientIP(r, s.trustedProxies)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentialContextKey struct{}

// withViewer authenticates the request once and attaches the viewer, plus the
// raw credential for logout, to the request context.
func (s *Server) withViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		viewer, err := s.gate.Authenticate(r.Context(), header)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("authenticate request failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		ctx := authgate.WithViewer(r.Context(), viewer)
		if u, ok := viewer.User(); ok {
			ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", u.ID))
		}
		ctx = context.WithValue(ctx, credentialContextKey{}, header)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialFromContext(ctx context.Context) string {
	v, _ := ctx.Value(credentialContextKey{}).(string)
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
