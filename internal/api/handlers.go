package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/cepton-bridge/internal/catalog"
	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/cepton/replay"
	"github.com/banshee-data/cepton-bridge/internal/httputil"
	"github.com/banshee-data/cepton-bridge/internal/network"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/security"
)

func (s *Server) handleReplayStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.cfg.Driver.Replay.Status())
}

// replayAction adapts a controller call that takes no arguments.
func (s *Server) replayAction(fn func(ctl *replay.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(s.cfg.Driver.Replay); err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.cfg.Driver.Replay.Status())
	}
}

func (s *Server) handleReplayOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path   string   `json:"path"`
		Loop   *bool    `json:"loop,omitempty"`
		Speed  *float64 `json:"speed,omitempty"`
		Paused bool     `json:"paused,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		httputil.BadRequest(w, "path is required")
		return
	}
	path := req.Path
	if s.cfg.CaptureDir != "" {
		resolved, err := security.ResolveWithin(s.cfg.CaptureDir, req.Path)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
			return
		}
		path = resolved
	}
	ctl := s.cfg.Driver.Replay
	if req.Speed != nil {
		if err := ctl.SetSpeed(*req.Speed); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Loop != nil {
		ctl.SetLoop(*req.Loop)
	}
	if err := ctl.Open(path); err != nil {
		writeError(w, err)
		return
	}
	if !req.Paused {
		if err := ctl.Resume(); err != nil {
			writeError(w, err)
			return
		}
	}
	logger.Printf("opened capture %s", path)
	httputil.WriteJSONOK(w, ctl.Status())
}

func (s *Server) handleReplaySeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position float64 `json:"position_seconds"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	d, ok := seconds(req.Position)
	if !ok {
		writeError(w, cepton.ErrInvalidArguments)
		return
	}
	s.replayAction(func(ctl *replay.Controller) error { return ctl.Seek(d) })(w, r)
}

func (s *Server) handleReplayAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration float64 `json:"seconds"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	d, ok := seconds(req.Duration)
	if !ok {
		writeError(w, cepton.ErrInvalidArguments)
		return
	}
	s.replayAction(func(ctl *replay.Controller) error { return ctl.ResumeBlocking(d) })(w, r)
}

func (s *Server) handleReplaySpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	s.replayAction(func(ctl *replay.Controller) error { return ctl.SetSpeed(req.Speed) })(w, r)
}

func (s *Server) handleReplayLoop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Loop bool `json:"loop"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	s.replayAction(func(ctl *replay.Controller) error {
		ctl.SetLoop(req.Loop)
		return nil
	})(w, r)
}

// seconds converts a JSON seconds value, rejecting negatives and non-finite
// values.
func seconds(v float64) (time.Duration, bool) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return time.Duration(v * float64(time.Second)), true
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors := s.cfg.Driver.Engine.Sensors()
	if sensors == nil {
		sensors = []cepton.SensorInfo{}
	}
	httputil.WriteJSONOK(w, sensors)
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	serial, err := parseSerial(r)
	if err != nil {
		httputil.BadRequest(w, "invalid serial number")
		return
	}
	engine := s.cfg.Driver.Engine
	handle, err := engine.SensorHandleBySerial(serial)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := engine.SensorInfo(handle)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, info)
}

type channelView struct {
	Key           string `json:"key"`
	Topic         string `json:"topic"`
	Index         int    `json:"index"`
	Frames        uint64 `json:"frames"`
	LastTimestamp uint64 `json:"last_timestamp_usec"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	chans := s.cfg.Driver.Registry.Channels()
	out := make([]channelView, 0, len(chans))
	for _, c := range chans {
		out = append(out, channelView{
			Key:           c.Key,
			Topic:         c.Topic,
			Index:         c.Index,
			Frames:        c.Frames(),
			LastTimestamp: c.LastTimestamp(),
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		httputil.NotFound(w, "sensor catalog is disabled")
		return
	}
	sensors, err := s.cfg.Catalog.List(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sensors == nil {
		sensors = []catalog.Sensor{}
	}
	httputil.WriteJSONOK(w, sensors)
}

func (s *Server) handleCatalogEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		httputil.NotFound(w, "sensor catalog is disabled")
		return
	}
	serial, err := parseSerial(r)
	if err != nil {
		httputil.BadRequest(w, "invalid serial number")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	events, err := s.cfg.Catalog.Events(r.Context(), serial, limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []catalog.Event{}
	}
	httputil.WriteJSONOK(w, events)
}

type statsView struct {
	Replay   replay.Status          `json:"replay"`
	Channels int                    `json:"channels"`
	Hub      *publish.HubStats      `json:"hub,omitempty"`
	Network  *network.StatsSnapshot `json:"network,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := statsView{
		Replay:   s.cfg.Driver.Replay.Status(),
		Channels: s.cfg.Driver.Registry.Len(),
	}
	if s.cfg.Hub != nil {
		hs := s.cfg.Hub.Stats()
		out.Hub = &hs
	}
	if s.cfg.Listener != nil {
		ns := s.cfg.Listener.Stats().Snapshot()
		out.Network = &ns
	}
	httputil.WriteJSONOK(w, out)
}
