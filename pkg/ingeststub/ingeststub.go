// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ingeststub is a development stand-in for the external ingest
// endpoint: it accepts notification POSTs, remembers Idempotency-Keys in a
// TTL cache, and flags redeliveries as duplicates. It exists so a full local
// loop (seed, detect, approve, send) runs without the real recipient.
package ingeststub

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	cache "github.com/patrickmn/go-cache"

	"github.com/pigtrack/pigtrack/pkg/util/log"
)

const (
	// keyTTL bounds how long a seen Idempotency-Key suppresses a repeat.
	keyTTL = 24 * time.Hour

	maxBodyBytes = 1 << 20
)

// Server is the stub ingest HTTP server.
type Server struct {
	addr string
	seen *cache.Cache
	http *http.Server
}

// New builds a stub listening on addr.
func New(addr string) *Server {
	s := &Server{
		addr: addr,
		seen: cache.New(keyTTL, 10*time.Minute),
	}
	r := mux.NewRouter()
	r.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("ingest stub: listening on %s", s.addr)
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("ingest stub: stopping")
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	duplicate := false
	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		// Add fails when the key is already cached; that redelivery is
		// exactly what the sender's at-least-once contract allows.
		duplicate = s.seen.Add(key, struct{}{}, cache.DefaultExpiration) != nil
	}
	log.Infof("ingest stub: %s %q from pig %v (duplicate=%v)",
		payload["Notification Type"], key, payload["Pig ID"], duplicate)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"duplicate": duplicate,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
