// Package gwhttp contains the watchdog's HTTP admin surface,
// a client for it, and an HTTP-backed [gwatchdog.Controller].
package gwhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwstore"
	"github.com/gorilla/mux"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Watchdog is the subset of [*gwatchdog.Watchdog] the server uses.
type Watchdog interface {
	Status() gwatchdog.Status
	SetAllowRestart(bool)
	Reboot(reason string)
	ProcessStarted(name string, pid int)
}

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Watchdog Watchdog

	// Optional. Without a store, the diagnostics routes respond 404.
	Diagnostics gwstore.DiagnosticStore

	// Optional. Without a gatherer, /metrics responds 404.
	Gatherer prom.Gatherer
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", handleStatus(log, cfg)).Methods("GET")
	r.HandleFunc("/allow-restart", handleAllowRestart(log, cfg)).Methods("PUT")
	r.HandleFunc("/reboot", handleReboot(log, cfg)).Methods("POST")
	r.HandleFunc("/processes/{name}", handleProcessStarted(log, cfg)).Methods("PUT")

	if cfg.Diagnostics != nil {
		r.HandleFunc("/diagnostics", handleListDiagnostics(log, cfg)).Methods("GET")
		r.HandleFunc("/diagnostics/{id}", handleDiagnostic(log, cfg)).Methods("GET")
		r.HandleFunc("/diagnostics/{id}/traces", handleDiagnosticTraces(log, cfg)).Methods("GET")
	}

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

func handleStatus(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := newStatusResponse(cfg.Watchdog.Status())

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal status", "err", err)
			return
		}
	}
}

func handleAllowRestart(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		var body AllowRestartRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
			return
		}

		cfg.Watchdog.SetAllowRestart(body.Allow)
		log.Info("Allow restart changed over HTTP", "allow", body.Allow, "remote", req.RemoteAddr)

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReboot(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		var body RebootRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
			return
		}
		if body.Reason == "" {
			http.Error(w, "reason must not be empty", http.StatusBadRequest)
			return
		}

		log.Info("Reboot requested over HTTP", "reason", body.Reason, "remote", req.RemoteAddr)

		// The Terminator normally does not return,
		// so reply before invoking it.
		w.WriteHeader(http.StatusAccepted)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		go cfg.Watchdog.Reboot(body.Reason)
	}
}

func handleProcessStarted(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		var body ProcessStartedRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
			return
		}
		if body.PID <= 0 {
			http.Error(w, "PID must be positive", http.StatusBadRequest)
			return
		}

		name := mux.Vars(req)["name"]
		cfg.Watchdog.ProcessStarted(name, body.PID)
		log.Debug("Process started", "name", name, "pid", body.PID)

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListDiagnostics(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := 0
		if s := req.URL.Query().Get("limit"); s != "" {
			var err error
			limit, err = strconv.Atoi(s)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
				return
			}
		}

		sums, err := cfg.Diagnostics.ListDiagnostics(req.Context(), limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to list diagnostics: %v", err), http.StatusInternalServerError)
			return
		}

		resp := make([]DiagnosticSummary, len(sums))
		for i, s := range sums {
			resp[i] = newDiagnosticSummary(s)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal diagnostics list", "err", err)
			return
		}
	}
}

func loadDiagnostic(w http.ResponseWriter, req *http.Request, s gwstore.DiagnosticStore) (gwatchdog.Diagnostic, bool) {
	id := mux.Vars(req)["id"]
	d, err := s.LoadDiagnostic(req.Context(), id)
	if err != nil {
		var nde gwstore.NoDiagnosticError
		if errors.As(err, &nde) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return d, false
		}
		http.Error(w, fmt.Sprintf("failed to load diagnostic: %v", err), http.StatusInternalServerError)
		return d, false
	}
	return d, true
}

func handleDiagnostic(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		d, ok := loadDiagnostic(w, req, cfg.Diagnostics)
		if !ok {
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(newDiagnosticSummary(gwstore.Summarize(d))); err != nil {
			log.Warn("Failed to marshal diagnostic", "err", err)
			return
		}
	}
}

func handleDiagnosticTraces(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		d, ok := loadDiagnostic(w, req, cfg.Diagnostics)
		if !ok {
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write(d.Traces); err != nil {
			log.Debug("Failed to write traces", "err", err)
		}
	}
}
