// Package api serves the bridge's HTTP control surface: replay control,
// sensor and channel listings, the sensor catalog, metrics and debug pages.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/cepton-bridge/internal/catalog"
	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/cepton/replay"
	"github.com/banshee-data/cepton-bridge/internal/driver"
	"github.com/banshee-data/cepton-bridge/internal/httputil"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/network"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/version"
)

var logger = monitoring.Component("api")

// CatalogLister is the read side of the sensor catalog.
type CatalogLister interface {
	List(ctx context.Context) ([]catalog.Sensor, error)
	Events(ctx context.Context, serial uint64, limit int) ([]catalog.Event, error)
}

// Config wires the server to the running components. Only Driver is
// required.
type Config struct {
	Driver   *driver.Driver
	Catalog  CatalogLister
	Hub      *publish.Hub
	Listener *network.Listener
	Gatherer prometheus.Gatherer
	Debug    http.Handler // mounted under /debug/
	Access   io.Writer    // combined access log, stdout when nil

	// CaptureDir, when set, confines captures opened over HTTP to this
	// directory.
	CaptureDir string
}

// Server routes HTTP requests.
type Server struct {
	cfg    Config
	router *mux.Router
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	// Routes are registered on the root router so a method mismatch reaches
	// MethodNotAllowedHandler.
	r.HandleFunc("/api/replay/status", s.handleReplayStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/replay/open", s.handleReplayOpen).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/close", s.replayAction(func(ctl *replay.Controller) error { return ctl.Close() })).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/pause", s.replayAction(func(ctl *replay.Controller) error { return ctl.Pause() })).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/resume", s.replayAction(func(ctl *replay.Controller) error { return ctl.Resume() })).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/rewind", s.replayAction(func(ctl *replay.Controller) error { return ctl.Rewind() })).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/step", s.replayAction(func(ctl *replay.Controller) error { return ctl.ResumeBlockingOnce() })).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/seek", s.handleReplaySeek).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/advance", s.handleReplayAdvance).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/speed", s.handleReplaySpeed).Methods(http.MethodPost)
	r.HandleFunc("/api/replay/loop", s.handleReplayLoop).Methods(http.MethodPost)

	r.HandleFunc("/api/sensors", s.handleSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors/{serial:[0-9]+}", s.handleSensor).Methods(http.MethodGet)
	r.HandleFunc("/api/channels", s.handleChannels).Methods(http.MethodGet)
	r.HandleFunc("/api/catalog", s.handleCatalog).Methods(http.MethodGet)
	r.HandleFunc("/api/catalog/{serial:[0-9]+}/events", s.handleCatalogEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, version.Get())
	}).Methods(http.MethodGet)

	gatherer := s.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if s.cfg.Debug != nil {
		r.PathPrefix("/debug/").Handler(s.cfg.Debug)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the router wrapped with panic recovery and access logging.
func (s *Server) Handler() http.Handler {
	access := s.cfg.Access
	if access == nil {
		access = os.Stdout
	}
	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(s.router)
	return handlers.CombinedLoggingHandler(access, recovered)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// writeError maps engine error codes to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := cepton.CodeOf(err)
	httputil.WriteCodedError(w, statusFor(code), code.Name(), err.Error())
}

func statusFor(code cepton.ErrorCode) int {
	switch code {
	case cepton.ErrInvalidArguments:
		return http.StatusBadRequest
	case cepton.ErrSensorNotFound, cepton.ErrFileIO:
		return http.StatusNotFound
	case cepton.ErrNotOpen, cepton.ErrAlreadyInitialized, cepton.ErrEOF:
		return http.StatusConflict
	case cepton.ErrInvalidFileType, cepton.ErrCorruptFile:
		return http.StatusUnprocessableEntity
	case cepton.ErrNotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseSerial(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["serial"], 10, 64)
}
