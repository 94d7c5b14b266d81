// Package server wires the HTTP routes, middleware and core components.
package server

import (
	"net/http"

	"firebase.google.com/go/v4/auth"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/config"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/handlers"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/ingest"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/match"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/middleware"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/reconcile"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/streaming"
)

// Server is the reconciliation API server.
type Server struct {
	cfg        *config.Config
	stores     store.Stores
	authClient *auth.Client
	mux        *http.ServeMux
}

// New creates a server over the given stores. authClient may be nil, in
// which case routes run unprotected regardless of configuration; the memory
// and sqlite backends have no Firebase project to verify tokens against.
func New(cfg *config.Config, stores store.Stores, authClient *auth.Client) *Server {
	s := &Server{
		cfg:        cfg,
		stores:     stores,
		authClient: authClient,
		mux:        http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check (no auth required)
	s.mux.HandleFunc("/health", handlers.HealthCheck)

	finder := match.NewFinder(s.stores.Postings, s.stores.Mappings)
	committer := reconcile.NewCommitter(s.stores)
	apiHandler := handlers.NewAPIHandler(s.stores, finder, committer, s.cfg.Match)

	hub := streaming.NewHub()
	importHandler := handlers.NewImportHandlers(ingest.New(s.stores), hub)

	protect := s.protector()

	s.mux.Handle("GET /api/banks/{bankId}/transactions", protect(http.HandlerFunc(apiHandler.ListTransactions)))
	s.mux.Handle("GET /api/transactions/{id}/candidates", protect(http.HandlerFunc(apiHandler.GetCandidates)))
	s.mux.Handle("POST /api/reconciliations", protect(http.HandlerFunc(apiHandler.CreateReconciliation)))
	s.mux.Handle("DELETE /api/reconciliations/{id}", protect(http.HandlerFunc(apiHandler.DeleteReconciliation)))

	s.mux.Handle("POST /api/banks/{bankId}/import", protect(http.HandlerFunc(importHandler.StartImport)))
	// SSE clients cannot set Authorization headers; the stream carries no
	// data beyond progress counters, so it stays unprotected.
	s.mux.Handle("GET /api/imports/{id}/stream", http.HandlerFunc(importHandler.StreamImport))
}

// protector returns the auth wrapper for protected routes, or a pass-through
// when auth is off.
func (s *Server) protector() func(http.Handler) http.Handler {
	if s.cfg.Server.AuthEnabled && s.authClient != nil {
		return middleware.NewAuthMiddleware(s.authClient).RequireAuth
	}
	return func(next http.Handler) http.Handler { return next }
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Server.Addr
}
