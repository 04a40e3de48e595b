// Package server is the local ingest endpoint platform adapters use to
// feed a run: hardware confirmations, pushed focus and a live report.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/vincentbai/focustrace/internal/logging"
	"github.com/vincentbai/focustrace/internal/models"
)

// maxBodyBytes bounds a single ingest request.
const maxBodyBytes = 1 << 20

// Confirmer accepts hardware confirmations.
type Confirmer interface {
	Confirm(press models.HardwarePress)
}

// FocusSetter receives focus pushed by an adapter.
type FocusSetter interface {
	Set(id string)
}

// Reporter builds the live report of the current run.
type Reporter interface {
	Build(cause error) models.Report
}

type Server struct {
	hardware Confirmer
	focus    FocusSetter
	reporter Reporter
	address  string
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func NewServer(hardware Confirmer, focus FocusSetter, reporter Reporter, address string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		hardware: hardware,
		focus:    focus,
		reporter: reporter,
		address:  address,
		logger:   logger,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleHardware(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch models.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, request.Body, maxBodyBytes)).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	for _, press := range batch.Presses {
		if press.ID == "" {
			http.Error(w, "press id cannot be empty", http.StatusBadRequest)
			return
		}
	}
	for _, press := range batch.Presses {
		s.hardware.Confirm(press)
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) handleFocus(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var update models.FocusUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, request.Body, maxBodyBytes)).Decode(&update); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	s.focus.Set(update.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.reporter.Build(nil)); err != nil {
		s.logger.Error("failed to write report", "error", err)
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/hardware", s.handleHardware)
	mux.HandleFunc("/v1/focus", s.handleFocus)
	mux.HandleFunc("/v1/report", s.handleReport)
	return mux
}

// Listen binds the server address. It is called by Serve when needed and
// may be called earlier to learn the bound address.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		listener, err := net.Listen("tcp", s.address)
		if err != nil {
			return nil, err
		}
		s.listener = listener
	}
	return s.listener.Addr(), nil
}

// Serve handles requests until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	address, err := s.Listen()
	if err != nil {
		return err
	}

	s.mu.Lock()
	// Adapters may speak HTTP/1.1 or cleartext HTTP/2.
	s.server = &http.Server{
		Handler:      h2c.NewHandler(s.setupRoutes(), &http2.Server{}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	httpServer, listener := s.server, s.listener
	s.mu.Unlock()

	failed := make(chan error, 1)
	go func() {
		s.logger.Info("ingest server listening", "address", address.String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
		close(failed)
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down ingest server")
	shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownContext); err != nil {
		return err
	}
	s.logger.Info("ingest server exited")
	return nil
}
