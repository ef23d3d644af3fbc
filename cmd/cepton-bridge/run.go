package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/banshee-data/cepton-bridge/internal/api"
	"github.com/banshee-data/cepton-bridge/internal/catalog"
	"github.com/banshee-data/cepton-bridge/internal/config"
	"github.com/banshee-data/cepton-bridge/internal/driver"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/network"
	"github.com/banshee-data/cepton-bridge/internal/publish"
	"github.com/banshee-data/cepton-bridge/internal/publish/grpcstream"
	"github.com/banshee-data/cepton-bridge/internal/publish/kafkasink"
	"github.com/banshee-data/cepton-bridge/internal/publish/mqttsink"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.String("capture", "", "replay this pcap capture instead of listening for live sensors")
	f.Bool("combine", false, "publish all sensors on one combined channel")
	f.String("namespace", "", "output topic namespace")
	f.Bool("loop", false, "loop the capture")
	f.Float64("speed", 0, "replay speed multiplier")
	f.Duration("frame-length", 0, "minimum time span of one published frame (0 publishes every packet)")
	f.String("udp", "", "UDP address for live sensor data")
	f.String("http", "", "HTTP API listen address")
	f.String("grpc", "", "gRPC stream listen address (empty disables)")
	f.StringSlice("kafka", nil, "Kafka brokers (empty disables)")
	f.String("mqtt", "", "MQTT broker URL (empty disables)")
	f.String("catalog", "", "sensor catalog database path (empty disables)")
	return cmd
}

// applyRunFlags overrides cfg with the flags set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func()) {
		if err == nil && f.Changed(name) {
			apply()
		}
	}
	set("capture", func() { cfg.CapturePath, err = f.GetString("capture") })
	set("combine", func() { cfg.CombineSensors, err = f.GetBool("combine") })
	set("namespace", func() { cfg.OutputNamespace, err = f.GetString("namespace") })
	set("loop", func() { cfg.ReplayLoop, err = f.GetBool("loop") })
	set("speed", func() { cfg.ReplaySpeed, err = f.GetFloat64("speed") })
	set("frame-length", func() { cfg.FrameLength.Duration, err = f.GetDuration("frame-length") })
	set("udp", func() { cfg.UDPAddress, err = f.GetString("udp") })
	set("http", func() { cfg.HTTPListen, err = f.GetString("http") })
	set("grpc", func() { cfg.GRPCListen, err = f.GetString("grpc") })
	set("kafka", func() { cfg.KafkaBrokers, err = f.GetStringSlice("kafka") })
	set("mqtt", func() { cfg.MQTTBroker, err = f.GetString("mqtt") })
	set("catalog", func() { cfg.CatalogPath, err = f.GetString("catalog") })
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// buildSinks assembles the publish fan-out. Remote sinks that fail to start
// are logged and left out.
func buildSinks(cfg *config.Config, m *monitoring.Metrics) (publish.Fanout, *publish.Hub) {
	hub := publish.NewHub(m)
	hub.Name = "local"
	sinks := publish.Fanout{hub}

	if cfg.GRPCListen != "" {
		srv := grpcstream.NewServer(m)
		if addr, err := srv.ListenAndServe(cfg.GRPCListen); err != nil {
			log.Printf("gRPC stream disabled: %v", err)
		} else {
			log.Printf("gRPC stream on %s", addr)
			sinks = append(sinks, srv)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := kafkasink.New(kafkasink.Config{Brokers: cfg.KafkaBrokers, TopicPrefix: cfg.KafkaTopicPrefix}, m)
		if err != nil {
			log.Printf("Kafka sink disabled: %v", err)
		} else {
			sinks = append(sinks, k)
		}
	}
	if cfg.MQTTBroker != "" {
		q, err := mqttsink.Connect(mqttsink.Config{Broker: cfg.MQTTBroker, TopicRoot: cfg.MQTTTopicRoot}, m)
		if err != nil {
			log.Printf("MQTT sink disabled: %v", err)
		} else {
			sinks = append(sinks, q)
		}
	}
	return sinks, hub
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := monitoring.NewMetrics(reg)

	sinks, hub := buildSinks(cfg, m)
	defer sinks.Close()

	var cat *catalog.Catalog
	if cfg.CatalogPath != "" {
		c, err := catalog.Open(cfg.CatalogPath, m)
		if err != nil {
			log.Printf("sensor catalog disabled: %v", err)
		} else {
			cat = c
			defer cat.Close()
		}
	}

	opts := driver.Options{
		Naming:       cfg.Naming(),
		ControlFlags: cfg.ControlFlags(),
		FrameLength:  cfg.FrameLength.Duration,
		Transforms:   cfg.CompiledTransforms(),
		CapturePath:  cfg.CapturePath,
		ReplayLoop:   cfg.ReplayLoop,
		ReplaySpeed:  cfg.ReplaySpeed,
		ReplayPort:   cfg.ReplayPort,
		Sink:         sinks,
		Metrics:      m,
	}
	if cat != nil {
		opts.Observer = cat
	}
	d := driver.New(opts)
	defer d.Close()
	// A setup failure leaves the process up so replay can be driven over HTTP.
	if err := d.Start(); err != nil {
		log.Printf("driver setup failed: %v", err)
	}

	var wg sync.WaitGroup
	var listener *network.Listener
	if cfg.CapturePath == "" && cfg.UDPAddress != "" {
		listener = network.NewListener(network.ListenerConfig{
			Address:  cfg.UDPAddress,
			Receiver: d.Engine,
			Metrics:  m,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP listener stopped: %v", err)
			}
		}()
	}

	if cfg.HTTPListen != "" {
		apiCfg := api.Config{Driver: d, Hub: hub, Listener: listener, Gatherer: reg, CaptureDir: cfg.CaptureDir}
		if cat != nil {
			apiCfg.Catalog = cat
			debug := http.NewServeMux()
			if err := cat.AttachAdminRoutes(debug); err != nil {
				log.Printf("debug routes disabled: %v", err)
			} else {
				apiCfg.Debug = debug
			}
		}
		srv := api.NewServer(apiCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.HTTPListen); err != nil {
				log.Printf("HTTP server stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Printf("shutting down")
	wg.Wait()
	log.Printf("graceful shutdown complete")
	return nil
}
