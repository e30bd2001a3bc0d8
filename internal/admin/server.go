// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// @title       canmaster admin API
// @version     1.0.0
// @description Read-only health, metrics and inventory-snapshot surface for the CAN master. Not the operator protocol, which lives on its own websocket.
// @basePath    /
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/pkg/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Server is the admin HTTP surface: a thin mux.Router wrapped in the
// same compress/recovery/CORS middleware chain the teacher wraps its
// main router in, scaled down to three routes.
type Server struct {
	http *http.Server
}

// NewServer builds a Server listening on addr. store is read directly
// (never mutated) to answer /api/v1/inventory; reg is the Prometheus
// registry /metrics serves.
func NewServer(addr string, store *inventory.Store, reg *prometheus.Registry) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/inventory", handleInventory(store)).Methods(http.MethodGet)
	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("http://" + addr + "/swagger/doc.json")))

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet}),
		handlers.AllowedOrigins([]string{"*"})))

	return &Server{http: &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}}
}

// Run blocks serving until ctx is cancelled, then shuts down
// gracefully. It mirrors the teacher's listen-then-Serve-then-Shutdown
// shape in cmd/cc-backend/server.go, minus TLS and privilege-drop
// (main drops privileges once for the whole process; nothing in this
// process serves TLS).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Infof("admin: shutting down %s", s.http.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// @summary  Liveness probe
// @tags     ops
// @produce  plain
// @success  200 {string} string "ok"
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// @summary  Current inventory snapshot
// @tags     ops
// @produce  json
// @success  200 {object} map[string]inventory.Node
func handleInventory(store *inventory.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(store.SnapshotAll()); err != nil {
			log.Errorf("admin: encode inventory snapshot: %v", err)
		}
	}
}
