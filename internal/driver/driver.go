// Package driver wires the acquisition engine to the output sinks: it owns
// the sensor registry and ingestion dispatcher and runs the setup sequence.
package driver

import (
	"fmt"
	"time"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/cepton/replay"
	"github.com/banshee-data/cepton-bridge/internal/geometry"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/pointcloud"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/topics"
)

var logger = monitoring.Component("driver")

// Options configures a Driver.
type Options struct {
	Naming       topics.Naming
	ControlFlags cepton.ControlFlags
	FrameLength  time.Duration
	Transforms   map[string]geometry.CompiledTransform

	// CapturePath, when set, replays a capture instead of relying on live input.
	CapturePath string
	ReplayLoop  bool
	ReplaySpeed float64
	ReplayPort  int

	Sink     publish.Sink
	Observer EventObserver
	Metrics  *monitoring.Metrics
}

// Driver is one explicitly owned pipeline: engine, replay controller,
// registry and dispatcher.
type Driver struct {
	Engine     *cepton.Engine
	Replay     *replay.Controller
	Registry   *Registry
	Dispatcher *Dispatcher

	opts Options
}

// New builds the pipeline. Nothing runs until Start.
func New(opts Options) *Driver {
	if opts.Sink == nil {
		opts.Sink = publish.Discard{}
	}
	engine := cepton.NewEngine()
	registry := NewRegistry(opts.Naming, opts.Sink, opts.Metrics)
	assembler := &pointcloud.Assembler{Naming: opts.Naming, Transforms: opts.Transforms}
	return &Driver{
		Engine:     engine,
		Replay:     replay.NewController(engine, opts.ReplayPort, opts.Metrics),
		Registry:   registry,
		Dispatcher: NewDispatcher(engine, registry, assembler, opts.Sink, opts.Observer, opts.Metrics),
		opts:       opts,
	}
}

// Start initializes the engine, registers the dispatcher and, when a capture
// is configured, opens it and starts replay. The first failing step stops the
// sequence; steps already done stay in effect and nothing is retried.
func (d *Driver) Start() error {
	err := d.Engine.Initialize(cepton.Options{
		ControlFlags: d.opts.ControlFlags,
		FrameLength:  d.opts.FrameLength,
		OnError:      d.engineError,
	})
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	if err := d.Engine.Listen(d.Dispatcher); err != nil {
		return fmt.Errorf("register dispatcher: %w", err)
	}
	if d.opts.CapturePath == "" {
		logger.Printf("started in live mode")
		return nil
	}

	if err := d.Replay.Open(d.opts.CapturePath); err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	d.Replay.SetLoop(d.opts.ReplayLoop)
	if d.opts.ReplaySpeed > 0 {
		if err := d.Replay.SetSpeed(d.opts.ReplaySpeed); err != nil {
			return fmt.Errorf("replay speed: %w", err)
		}
	}
	if err := d.Replay.Resume(); err != nil {
		return fmt.Errorf("start replay: %w", err)
	}
	logger.Printf("started replay of %s (loop=%v speed=%.2fx)", d.opts.CapturePath, d.opts.ReplayLoop, d.Replay.Speed())
	return nil
}

// Close stops replay and the engine, then the dispatcher. No callback runs
// after Close returns.
func (d *Driver) Close() error {
	if d.Replay.IsOpen() {
		if err := d.Replay.Close(); err != nil {
			logger.Warnf("close replay: %v", err)
		}
	}
	if d.Engine.IsInitialized() {
		if err := d.Engine.Deinitialize(); err != nil {
			logger.Warnf("deinitialize engine: %v", err)
		}
	}
	d.Engine.Unlisten()
	d.Dispatcher.Close()
	logger.Printf("stopped (%d channels)", d.Registry.Len())
	return nil
}

func (d *Driver) engineError(handle cepton.SensorHandle, code cepton.ErrorCode, msg string) {
	if code.IsFault() {
		logger.Warnf("sensor %s fault %s: %s", handle, code.Name(), msg)
		return
	}
	logger.Warnf("engine %s: %s (%s)", handle, msg, code.Name())
}
