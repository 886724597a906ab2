// Package server is the single inbound HTTP listener: it serves the
// live status page, the Google OAuth authorization callback, the
// Prometheus metrics endpoint and the health probes.
package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teemow/mailferry/internal/google"
	"github.com/teemow/mailferry/internal/instrumentation"
	"github.com/teemow/mailferry/internal/logging"
	"github.com/teemow/mailferry/internal/stats"
)

// HTTP server timeouts.
const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// AuthReporter exposes the pending authorization URL, when one exists.
type AuthReporter interface {
	AuthURL() string
}

// StatsSource is the read side of the stats store.
type StatsSource interface {
	AllStats() map[string]stats.Snapshot
}

// Config holds the status server dependencies.
type Config struct {
	Addr     string
	Registry *google.HandoffRegistry
	Auth     AuthReporter
	Stats    StatsSource
	Logger   *slog.Logger
	Metrics  *instrumentation.Metrics
}

// Server is the status listener. Start is idempotent: the listener is
// created at most once per process.
type Server struct {
	addr     string
	registry *google.HandoffRegistry
	auth     AuthReporter
	stats    StatsSource
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	health   *HealthChecker

	started    atomic.Bool
	httpServer *http.Server
}

// New creates a status server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     cfg.Addr,
		registry: cfg.Registry,
		auth:     cfg.Auth,
		stats:    cfg.Stats,
		logger:   logging.WithOperation(logger, "http"),
		metrics:  cfg.Metrics,
		health:   NewHealthChecker(),
	}
}

// Start runs the listener until Shutdown. A second Start is a no-op.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	s.logger.Info("starting status server", slog.String("addr", s.addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener: graceful first, then force-closed so
// the process is guaranteed to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.health.SetReady(false)
	s.logger.Info("shutting down status server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Handler builds the request dispatch. Every inbound request is first
// checked against the handoff registry: a hit means this is the OAuth
// callback, regardless of routing. Everything else goes through the
// router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/healthz", s.health.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/readyz", s.health.ReadinessHandler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		if s.registry != nil && s.registry.Lookup(req.URL.Path) {
			s.handleCallback(sw, req)
		} else {
			r.ServeHTTP(sw, req)
		}
		s.metrics.RecordHTTPRequest(req.Context(), req.Method, req.URL.Path, sw.status)
	})
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// handleCallback consumes a pending authorization. The registry
// guarantees exactly-once consumption: a concurrent duplicate request
// finds no waiter and falls through to 404.
func (s *Server) handleCallback(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	code := q.Get("code")
	errParam := q.Get("error")

	consumed, err := s.registry.Consume(req.Context(), req.URL.Path, code, errParam)
	if !consumed {
		s.handleNotFound(w, req)
		return
	}
	if err != nil {
		s.logger.Warn("authorization callback failed", logging.Err(err))
		writePage(w, http.StatusBadRequest, "Authorization failed",
			fmt.Sprintf("The authorization could not be completed: %v. The daemon will offer a fresh authorization link on the next cycle.", err))
		return
	}

	s.logger.Info("authorization callback consumed", logging.Status(logging.StatusSuccess))
	writePage(w, http.StatusOK, "Authorization complete",
		`Mail synchronization will resume shortly. You can close this window or go to the <a href="/status">status page</a>.`)
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>mailferry status</title></head>
<body>
<h1>mailferry</h1>
{{if .AuthURL}}
<p><strong>Authorization required:</strong> <a href="{{.AuthURL}}">authorize Gmail access</a></p>
{{end}}
<table border="1" cellpadding="4">
<tr><th>Account</th><th>Last sync</th><th>Status</th><th>Message</th>
<th>Day</th><th>Week</th><th>Month</th><th>Year</th><th>Total</th></tr>
{{range .Accounts}}
<tr>
<td>{{.Name}}</td><td>{{.LastSyncTime}}</td><td>{{.LastSyncStatus}}</td><td>{{.LastSyncMessage}}</td>
<td>{{.Day}}</td><td>{{.Week}}</td><td>{{.Month}}</td><td>{{.Year}}</td><td>{{.Total}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

type accountView struct {
	Name            string
	LastSyncTime    string
	LastSyncStatus  string
	LastSyncMessage string
	Day             int
	Week            int
	Month           int
	Year            int
	Total           int
}

type statusView struct {
	AuthURL  string
	Accounts []accountView
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	if s.stats == nil {
		http.Error(w, "stats store unavailable", http.StatusInternalServerError)
		return
	}

	all := s.stats.AllStats()
	view := statusView{}
	if s.auth != nil {
		view.AuthURL = s.auth.AuthURL()
	}

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		snap := all[name]
		av := accountView{
			Name:  name,
			Day:   snap.Day,
			Week:  snap.Week,
			Month: snap.Month,
			Year:  snap.Year,
			Total: snap.Total,
		}
		if snap.LastSync != nil {
			av.LastSyncTime = time.UnixMilli(snap.LastSync.Time).Format(time.RFC3339)
			av.LastSyncStatus = string(snap.LastSync.Status)
			av.LastSyncMessage = snap.LastSync.Message
		}
		view.Accounts = append(view.Accounts, av)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, view); err != nil {
		s.logger.Warn("rendering status page failed", logging.Err(err))
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writePage(w, http.StatusNotFound, "Not found",
		`Nothing here. Try the <a href="/status">status page</a>.`)
}

func writePage(w http.ResponseWriter, code int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>\n",
		title, title, body)
}
