// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// Config holds configuration knobs for the HTTP server, camera, scan engine and
// event publishing.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	InstanceID      string        `yaml:"instance_id"`

	Catalog CatalogConfig `yaml:"catalog"`
	Camera  CameraConfig  `yaml:"camera"`
	Scan    ScanConfig    `yaml:"scan"`
	Preview PreviewConfig `yaml:"preview"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Outbox  OutboxConfig  `yaml:"outbox"`
	Log     LogConfig     `yaml:"log"`
}

// CatalogConfig locates the product catalog.
type CatalogConfig struct {
	Path           string `yaml:"path"`
	CurrencyPrefix string `yaml:"currency_prefix"`
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	Source     string `yaml:"source"` // gst, synthetic
	Device     string `yaml:"device"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FPS        int    `yaml:"fps"`
	FixtureDir string `yaml:"fixture_dir"`
}

// ScanConfig tunes the scan loop.
type ScanConfig struct {
	CoolDown       time.Duration `yaml:"cooldown"`
	Interval       time.Duration `yaml:"interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	SerializeReads bool          `yaml:"serialize_reads"`
	Formats        []string      `yaml:"formats"`
}

// PreviewConfig tunes the MJPEG preview.
type PreviewConfig struct {
	JPEGQuality int `yaml:"jpeg_quality"`
}

// MQTTConfig contains broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	ClientID string `yaml:"client_id"`
}

// OutboxConfig sizes the event outbox.
type OutboxConfig struct {
	Workers       int `yaml:"workers"`
	Buffer        int `yaml:"buffer"`
	HighWatermark int `yaml:"high_watermark"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	SourceGStreamer = "gst"
	SourceSynthetic = "synthetic"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvms(key string, def time.Duration) time.Duration {
	ms := atoienv(key, int(def/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, def time.Duration) time.Duration {
	sec := atoienv(key, int(def/time.Second))
	return time.Duration(sec) * time.Second
}

func listenv(key string, def []string) []string {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		InstanceID:      "kiosk-1",
		Catalog: CatalogConfig{
			Path:           "data/catalog.csv",
			CurrencyPrefix: "Rp",
		},
		Camera: CameraConfig{
			Source: SourceGStreamer,
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Scan: ScanConfig{
			CoolDown:    3 * time.Second,
			Interval:    100 * time.Millisecond,
			ReadTimeout: 500 * time.Millisecond,
			Formats:     []string{"ean13", "ean8", "upca", "code128", "qr"},
		},
		Preview: PreviewConfig{JPEGQuality: 80},
		MQTT: MQTTConfig{
			Topic:    "kiosk/events",
			QoS:      1,
			ClientID: "scan-kiosk",
		},
		Outbox: OutboxConfig{
			Workers:       1,
			Buffer:        64,
			HighWatermark: 1000,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// applyEnv overlays environment variables on c. Unset or malformed variables
// keep the current value.
func applyEnv(c *Config) {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.ShutdownTimeout = durenvs("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.InstanceID = getenv("INSTANCE_ID", c.InstanceID)

	c.Catalog.Path = getenv("CATALOG_PATH", c.Catalog.Path)
	c.Catalog.CurrencyPrefix = getenv("CURRENCY_PREFIX", c.Catalog.CurrencyPrefix)

	c.Camera.Source = getenv("CAMERA_SOURCE", c.Camera.Source)
	c.Camera.Device = getenv("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.Width = atoienv("CAMERA_WIDTH", c.Camera.Width)
	c.Camera.Height = atoienv("CAMERA_HEIGHT", c.Camera.Height)
	c.Camera.FPS = atoienv("CAMERA_FPS", c.Camera.FPS)
	c.Camera.FixtureDir = getenv("CAMERA_FIXTURE_DIR", c.Camera.FixtureDir)

	c.Scan.CoolDown = durenvms("SCAN_COOLDOWN_MS", c.Scan.CoolDown)
	c.Scan.Interval = durenvms("SCAN_INTERVAL_MS", c.Scan.Interval)
	c.Scan.ReadTimeout = durenvms("SCAN_READ_TIMEOUT_MS", c.Scan.ReadTimeout)
	c.Scan.SerializeReads = boolenv("SCAN_SERIALIZE_READS", c.Scan.SerializeReads)
	c.Scan.Formats = listenv("SCAN_FORMATS", c.Scan.Formats)

	c.Preview.JPEGQuality = atoienv("PREVIEW_JPEG_QUALITY", c.Preview.JPEGQuality)

	c.MQTT.Broker = getenv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = getenv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.QoS = atoienv("MQTT_QOS", c.MQTT.QoS)
	c.MQTT.ClientID = getenv("MQTT_CLIENT_ID", c.MQTT.ClientID)

	c.Outbox.Workers = atoienv("OUTBOX_WORKERS", c.Outbox.Workers)
	c.Outbox.Buffer = atoienv("OUTBOX_BUFFER", c.Outbox.Buffer)
	c.Outbox.HighWatermark = atoienv("OUTBOX_HIGH_WATERMARK", c.Outbox.HighWatermark)

	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("LOG_FORMAT", c.Log.Format)
}

// Load collects configuration from environment with defaults.
func Load() Config {
	c := Defaults()
	applyEnv(&c)
	return c
}

// LoadFile reads a YAML configuration file on top of the defaults, then applies
// environment overrides and validates the result.
func LoadFile(path string) (Config, error) {
	c := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}
	applyEnv(&c)
	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}

// FromEnv loads CONFIG_FILE when set, otherwise defaults plus environment.
func FromEnv() (Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return LoadFile(path)
	}
	c := Load()
	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Catalog.Path == "" {
		return errors.New("catalog.path is required")
	}
	switch c.Camera.Source {
	case SourceGStreamer, SourceSynthetic:
	default:
		return errors.Errorf("camera.source %q must be %q or %q", c.Camera.Source, SourceGStreamer, SourceSynthetic)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return errors.Errorf("invalid camera resolution %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 || c.Camera.FPS > 120 {
		return errors.Errorf("camera.fps %d out of range (1-120)", c.Camera.FPS)
	}
	if c.Scan.CoolDown < 0 {
		return errors.New("scan.cooldown must be >= 0")
	}
	if c.Scan.Interval < 0 || c.Scan.ReadTimeout <= 0 {
		return errors.New("scan.interval must be >= 0 and scan.read_timeout > 0")
	}
	if len(c.Scan.Formats) == 0 {
		return errors.New("scan.formats must name at least one symbology")
	}
	if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
		return errors.Errorf("preview.jpeg_quality %d out of range (1-100)", c.Preview.JPEGQuality)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.Errorf("mqtt.qos %d out of range (0-2)", c.MQTT.QoS)
	}
	if c.Outbox.Workers <= 0 {
		return errors.New("outbox.workers must be > 0")
	}
	return nil
}
