// Package config loads server and client settings: built-in defaults,
// optionally overlaid by a YAML file named in REMOTE64_CONFIG, then by
// individual environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/remote64/internal/wire"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// PathEnv names the environment variable holding the YAML file path.
const PathEnv = "REMOTE64_CONFIG"

// Server configures remote64-server.
type Server struct {
	Listen       string          `yaml:"listen"`
	APIAddr      string          `yaml:"api"`
	SRTAddr      string          `yaml:"srt"`
	Pulls        []Pull          `yaml:"pulls"`
	Features     []string        `yaml:"features"`
	PingInterval time.Duration   `yaml:"pingInterval"`
	PongTimeout  time.Duration   `yaml:"pongTimeout"`
	RingSize     int             `yaml:"ringSize"`
	Resolution   wire.Resolution `yaml:"resolution"`
	Redis        Redis           `yaml:"redis"`
	MQTT         MQTT            `yaml:"mqtt"`
}

// Pull is an SRT capture source the server dials.
type Pull struct {
	Address   string `yaml:"address"`
	StreamKey string `yaml:"streamKey"`
	StreamID  string `yaml:"streamId"`
}

// Redis configures the presence mirror. An empty Addr keeps presence in
// memory.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MQTT configures recording control. An empty Broker only logs.
type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Client configures remote64-client.
type Client struct {
	Server        string          `yaml:"server"`
	Resolution    wire.Resolution `yaml:"resolution"`
	LowWater      int             `yaml:"lowWater"`
	Floor         int             `yaml:"floor"`
	MinInterval   time.Duration   `yaml:"minInterval"`
	QueueInterval time.Duration   `yaml:"queueInterval"`
	BufferDepth   int             `yaml:"bufferDepth"`
	FPS           int             `yaml:"fps"`
}

// DefaultServer returns the built-in server settings.
func DefaultServer() Server {
	return Server{
		Listen:       ":6400",
		APIAddr:      ":6401",
		SRTAddr:      ":6000",
		Features:     []string{"LivePlayback"},
		PingInterval: 3 * time.Second,
		PongTimeout:  22 * time.Second,
		RingSize:     30,
		Resolution:   wire.DefaultResolution,
		Redis:        Redis{Prefix: "remote64"},
		MQTT:         MQTT{ClientID: "remote64-server", Topic: "remote64/recording"},
	}
}

// DefaultClient returns the built-in client settings.
func DefaultClient() Client {
	return Client{
		Server:        "localhost:6400",
		Resolution:    wire.DefaultResolution,
		LowWater:      35,
		Floor:         20,
		MinInterval:   time.Second,
		QueueInterval: 5 * time.Second,
		BufferDepth:   120,
		FPS:           15,
	}
}

// LoadServer builds the server configuration and validates it.
func LoadServer() (*Server, error) {
	cfg := DefaultServer()
	if err := overlayFile(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient builds the client configuration and validates it.
func LoadClient() (*Client, error) {
	cfg := DefaultClient()
	if err := overlayFile(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlayFile(dst any) error {
	path := os.Getenv(PathEnv)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (s *Server) applyEnv() error {
	s.Listen = envOr("REMOTE64_LISTEN", s.Listen)
	s.APIAddr = envOr("REMOTE64_API_ADDR", s.APIAddr)
	s.SRTAddr = envOr("SRT_ADDR", s.SRTAddr)
	if addr := os.Getenv("SRT_PULL_ADDR"); addr != "" {
		s.Pulls = append(s.Pulls, Pull{Address: addr, StreamKey: envOr("SRT_PULL_KEY", "console")})
	}
	if v := os.Getenv("REMOTE64_FEATURES"); v != "" {
		s.Features = splitList(v)
	}
	s.Redis.Addr = envOr("REDIS_ADDR", s.Redis.Addr)
	s.Redis.Prefix = envOr("REDIS_PREFIX", s.Redis.Prefix)
	s.MQTT.Broker = envOr("MQTT_BROKER", s.MQTT.Broker)
	s.MQTT.Topic = envOr("MQTT_TOPIC", s.MQTT.Topic)

	var err error
	if s.PingInterval, err = envDuration("REMOTE64_PING_INTERVAL", s.PingInterval); err != nil {
		return err
	}
	if s.PongTimeout, err = envDuration("REMOTE64_PONG_TIMEOUT", s.PongTimeout); err != nil {
		return err
	}
	if s.RingSize, err = envInt("REMOTE64_RING_SIZE", s.RingSize); err != nil {
		return err
	}
	if s.Resolution, err = envResolution("REMOTE64_RESOLUTION", s.Resolution); err != nil {
		return err
	}
	return nil
}

func (c *Client) applyEnv() error {
	c.Server = envOr("REMOTE64_SERVER", c.Server)

	var err error
	if c.Resolution, err = envResolution("REMOTE64_RESOLUTION", c.Resolution); err != nil {
		return err
	}
	if c.LowWater, err = envInt("REMOTE64_LOW_WATER", c.LowWater); err != nil {
		return err
	}
	if c.Floor, err = envInt("REMOTE64_FLOOR", c.Floor); err != nil {
		return err
	}
	if c.FPS, err = envInt("REMOTE64_FPS", c.FPS); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (s *Server) Validate() error {
	switch {
	case s.Listen == "":
		return fmt.Errorf("%w: listen address is required", ErrInvalid)
	case s.RingSize <= 0:
		return fmt.Errorf("%w: ringSize must be positive, got %d", ErrInvalid, s.RingSize)
	case s.PingInterval <= 0:
		return fmt.Errorf("%w: pingInterval must be positive", ErrInvalid)
	case s.PongTimeout <= s.PingInterval:
		return fmt.Errorf("%w: pongTimeout (%s) must exceed pingInterval (%s)", ErrInvalid, s.PongTimeout, s.PingInterval)
	}
	if err := validResolution(s.Resolution); err != nil {
		return err
	}
	if _, err := s.FeatureSet(); err != nil {
		return err
	}
	for i, p := range s.Pulls {
		if p.Address == "" || p.StreamKey == "" {
			return fmt.Errorf("%w: pulls[%d] needs address and streamKey", ErrInvalid, i)
		}
	}
	return nil
}

// FeatureSet parses Features in order, dropping duplicates.
func (s *Server) FeatureSet() ([]wire.Feature, error) {
	out := make([]wire.Feature, 0, len(s.Features))
	seen := make(map[wire.Feature]bool, len(s.Features))
	for _, name := range s.Features {
		f, err := wire.ParseFeature(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Validate rejects settings the client cannot run with.
func (c *Client) Validate() error {
	switch {
	case c.Server == "":
		return fmt.Errorf("%w: server address is required", ErrInvalid)
	case c.Floor <= 0:
		return fmt.Errorf("%w: floor must be positive, got %d", ErrInvalid, c.Floor)
	case c.LowWater < c.Floor:
		return fmt.Errorf("%w: lowWater (%d) below floor (%d)", ErrInvalid, c.LowWater, c.Floor)
	case c.BufferDepth < c.LowWater:
		return fmt.Errorf("%w: bufferDepth (%d) below lowWater (%d)", ErrInvalid, c.BufferDepth, c.LowWater)
	case c.FPS <= 0:
		return fmt.Errorf("%w: fps must be positive", ErrInvalid)
	case c.MinInterval < 0 || c.QueueInterval <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalid)
	}
	return validResolution(c.Resolution)
}

func validResolution(r wire.Resolution) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalid, r.Width, r.Height)
	}
	if r.VideoLen() > wire.MaxVideoSize {
		return fmt.Errorf("%w: resolution %dx%d exceeds maximum frame size", ErrInvalid, r.Width, r.Height)
	}
	return nil
}

// LogLevel reads LOG_LEVEL (debug, info, warn, error). DEBUG set to anything
// forces debug.
func LogLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envResolution(key string, fallback wire.Resolution) (wire.Resolution, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(v), "x")
	if !ok {
		return fallback, fmt.Errorf("%s: want WIDTHxHEIGHT, got %q", key, v)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return wire.Resolution{Width: width, Height: height}, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
