/*
	Package server holds the settings of a conversion and an optional HTTP server that
	reports its progress while slices are extracted and cubed.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/janelia-flyem/n5knossos/core"
	"github.com/janelia-flyem/n5knossos/stack"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
)

const (
	// The default address of the status server.
	DefaultWebAddress = "localhost:8000"

	// Stages of a conversion reported by /status.
	StageStarting   = "starting"
	StageExtracting = "extracting"
	StageCubing     = "cubing"
	StageDone       = "done"
	StageFailed     = "failed"
)

// Status is the JSON returned by /status.
type Status struct {
	stack.ProgressReport
	Stage     string `json:"stage"`
	Container string `json:"container"`
	Dataset   string `json:"dataset"`
}

// Service reports the state of a single conversion over HTTP.
type Service struct {
	settings *Settings
	progress *stack.Progress

	mu    sync.RWMutex
	stage string
}

func NewService(settings *Settings, progress *stack.Progress) *Service {
	return &Service{settings: settings, progress: progress, stage: StageStarting}
}

// SetStage records the current stage of the conversion.
func (s *Service) SetStage(stage string) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
	core.Debugf("Conversion stage: %s\n", stage)
}

func (s *Service) Stage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// Handler returns the routes of the status server.
func (s *Service) Handler() http.Handler {
	mux := web.New()
	mux.Use(logRequests)
	mux.Use(cors.New(cors.Options{
		AllowedOrigins: s.settings.Server.CorsDomains,
		AllowedMethods: []string{"GET", "HEAD"},
	}).Handler)
	mux.Get("/status", s.statusHandler)
	mux.Get("/config", s.configHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		BadRequest(w, r, "no route for %s; use /status or /config", r.URL.Path)
	})
	return mux
}

// Serve runs the status server until the context is done.
func (s *Service) Serve(ctx context.Context, address string) error {
	if address == "" {
		address = DefaultWebAddress
	}
	srv := &http.Server{
		Addr:        address,
		Handler:     s.Handler(),
		ReadTimeout: 1 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	core.Infof("Status server listening at %s ...\n", address)

	select {
	case err := <-errCh:
		return fmt.Errorf("status server at %s: %v", address, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := Status{
		ProgressReport: s.progress.Report(),
		Stage:          s.Stage(),
		Container:      s.settings.Source.Container,
		Dataset:        s.settings.Source.Dataset,
	}
	writeJSON(w, r, status)
}

func (s *Service) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.settings)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		BadRequest(w, r, "can't encode JSON: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// BadRequest writes an error message to the log and the HTTP response.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	errorMsg := fmt.Sprintf("ERROR: %s (%s).", message, r.URL.Path)
	core.Errorf("%s\n", errorMsg)
	http.Error(w, errorMsg, http.StatusBadRequest)
}

func logRequests(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		h.ServeHTTP(w, r)
		core.Debugf("HTTP %s: %s (%s)\n", r.Method, r.URL, time.Since(t0))
	}
	return http.HandlerFunc(fn)
}
