// Package config loads the bridge configuration: defaults, then a JSON file,
// then CEPTON_* environment variables. Command-line flags are applied last
// by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/geometry"
	"github.com/banshee-data/cepton-bridge/internal/topics"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/bridge.example.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

var namespacePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Duration is a time.Duration written as a string like "100ms" in JSON and
// in the environment.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Transform is a sensor's static pose: translation in meters and rotation as
// an (x, y, z, w) quaternion. A zero rotation means identity.
type Transform struct {
	Translation [3]float32 `json:"translation"`
	Rotation    [4]float32 `json:"rotation"`
}

// Compile returns the transform ready for per-point use.
func (t Transform) Compile() geometry.CompiledTransform {
	rot := t.Rotation
	if rot == ([4]float32{}) {
		rot = [4]float32{0, 0, 0, 1}
	}
	return geometry.NewCompiledTransform(t.Translation, rot)
}

// Config is the full bridge configuration.
type Config struct {
	CapturePath           string   `json:"capture_path,omitempty" env:"CEPTON_CAPTURE_PATH"`
	CombineSensors        bool     `json:"combine_sensors" env:"CEPTON_COMBINE_SENSORS"`
	OutputNamespace       string   `json:"output_namespace" env:"CEPTON_OUTPUT_NAMESPACE"`
	ReplayLoop            bool     `json:"replay_loop" env:"CEPTON_REPLAY_LOOP"`
	ReplaySpeed           float64  `json:"replay_speed" env:"CEPTON_REPLAY_SPEED"`
	ReplayPort            int      `json:"replay_port" env:"CEPTON_REPLAY_PORT"`
	FrameLength           Duration `json:"frame_length" env:"CEPTON_FRAME_LENGTH"`
	DisableImageClip      bool     `json:"disable_image_clip" env:"CEPTON_DISABLE_IMAGE_CLIP"`
	DisableDistanceClip   bool     `json:"disable_distance_clip" env:"CEPTON_DISABLE_DISTANCE_CLIP"`
	EnableMultipleReturns bool     `json:"enable_multiple_returns" env:"CEPTON_ENABLE_MULTIPLE_RETURNS"`

	UDPAddress       string   `json:"udp_address" env:"CEPTON_UDP_ADDRESS"`
	HTTPListen       string   `json:"http_listen" env:"CEPTON_HTTP_LISTEN"`
	GRPCListen       string   `json:"grpc_listen,omitempty" env:"CEPTON_GRPC_LISTEN"`
	KafkaBrokers     []string `json:"kafka_brokers,omitempty" env:"CEPTON_KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPrefix string   `json:"kafka_topic_prefix,omitempty" env:"CEPTON_KAFKA_TOPIC_PREFIX"`
	MQTTBroker       string   `json:"mqtt_broker,omitempty" env:"CEPTON_MQTT_BROKER"`
	MQTTTopicRoot    string   `json:"mqtt_topic_root,omitempty" env:"CEPTON_MQTT_TOPIC_ROOT"`
	CatalogPath      string   `json:"catalog_path,omitempty" env:"CEPTON_CATALOG_PATH"`
	CaptureDir       string   `json:"capture_dir,omitempty" env:"CEPTON_CAPTURE_DIR"`

	// Transforms maps sensor names (decimal serial numbers) to poses.
	Transforms map[string]Transform `json:"transforms,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		OutputNamespace: topics.DefaultNamespace,
		ReplaySpeed:     1,
		ReplayPort:      8808,
		UDPAddress:      ":8808",
		HTTPListen:      ":8080",
	}
}

// Load builds a configuration from defaults, the JSON file at path (skipped
// when path is empty) and the process environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment; nil means the process
// environment.
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays the JSON file at path. Fields the file omits keep their
// current values.
func (c *Config) mergeFile(path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if !namespacePattern.MatchString(c.OutputNamespace) {
		return fmt.Errorf("output_namespace must be an identifier, got %q", c.OutputNamespace)
	}
	if c.ReplaySpeed <= 0 || math.IsInf(c.ReplaySpeed, 0) || math.IsNaN(c.ReplaySpeed) {
		return fmt.Errorf("replay_speed must be positive, got %v", c.ReplaySpeed)
	}
	if c.ReplayPort <= 0 || c.ReplayPort > 65535 {
		return fmt.Errorf("replay_port out of range: %d", c.ReplayPort)
	}
	if c.FrameLength.Duration < 0 {
		return fmt.Errorf("frame_length must be non-negative, got %v", c.FrameLength)
	}
	for name, addr := range map[string]string{
		"udp_address": c.UDPAddress,
		"http_listen": c.HTTPListen,
		"grpc_listen": c.GRPCListen,
	} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, addr, err)
		}
	}
	for name, t := range c.Transforms {
		for _, v := range append(t.Translation[:], t.Rotation[:]...) {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("transform %q has non-finite values", name)
			}
		}
		if t.Rotation != ([4]float32{}) && math.Abs(geometry.QuaternionNorm(t.Rotation)-1) > 1e-3 {
			return fmt.Errorf("transform %q rotation is not a unit quaternion (norm %.4f)", name, geometry.QuaternionNorm(t.Rotation))
		}
	}
	return nil
}

// Naming returns the topic naming derived from the configuration.
func (c *Config) Naming() topics.Naming {
	return topics.Naming{Namespace: c.OutputNamespace, Combine: c.CombineSensors}
}

// ControlFlags returns the engine control flags for the configuration.
func (c *Config) ControlFlags() cepton.ControlFlags {
	var flags cepton.ControlFlags
	if c.DisableImageClip {
		flags |= cepton.ControlDisableImageClip
	}
	if c.DisableDistanceClip {
		flags |= cepton.ControlDisableDistanceClip
	}
	if c.EnableMultipleReturns {
		flags |= cepton.ControlEnableMultipleReturns
	}
	if c.CapturePath != "" {
		flags |= cepton.ControlDisableNetwork
	}
	return flags
}

// CompiledTransforms compiles every configured pose.
func (c *Config) CompiledTransforms() map[string]geometry.CompiledTransform {
	if len(c.Transforms) == 0 {
		return nil
	}
	out := make(map[string]geometry.CompiledTransform, len(c.Transforms))
	for name, t := range c.Transforms {
		out[name] = t.Compile()
	}
	return out
}
