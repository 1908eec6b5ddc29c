package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	EnvTopicTimeoutMS = "TCPROS_TOPIC_TIMEOUT_MS"
	EnvNodeName       = "TCPROS_NODE_NAME"

	DefaultTopicTimeout   = 5000 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second
)

var topicTimeout atomic.Int64

func init() {
	topicTimeout.Store(int64(DefaultTopicTimeout))
}

// TopicTimeout is the process-wide limit on waiting for a publisher's
// connection header. Subscribers read it when they start.
func TopicTimeout() time.Duration {
	return time.Duration(topicTimeout.Load())
}

// SetTopicTimeout replaces the process-wide handshake timeout. Non-positive
// values restore the default.
func SetTopicTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTopicTimeout
	}
	topicTimeout.Store(int64(d))
}

// Publisher is one already-resolved publisher endpoint to subscribe to.
type Publisher struct {
	Topic  string
	Type   string
	MD5Sum string
	Host   string
	Port   int
}

type MetricsConfig struct {
	ServiceName      string
	OTLPEndpoint     string
	OTLPGRPCEndpoint string
}

func (m MetricsConfig) Enabled() bool {
	return m.OTLPEndpoint != "" || m.OTLPGRPCEndpoint != ""
}

type Config struct {
	NodeName       string
	TopicTimeout   time.Duration
	ConnectTimeout time.Duration
	TCPNoDelay     bool
	MaxFrameBytes  uint32
	Publishers     []Publisher
	Metrics        MetricsConfig
}

func Default() Config {
	return Config{
		NodeName:       AnonymousName("/topicecho"),
		TopicTimeout:   DefaultTopicTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		TCPNoDelay:     true,
		MaxFrameBytes:  256 * 1024 * 1024,
		Metrics:        MetricsConfig{ServiceName: "topicecho"},
	}
}

// AnonymousName appends a unique suffix to base, the way anonymous nodes are
// named so several copies can run side by side.
func AnonymousName(base string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return base + "_" + id[:12]
}

// Apply publishes the process-wide parts of c.
func (c Config) Apply() {
	SetTopicTimeout(c.TopicTimeout)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeName) == "" {
		return errors.New("config: node_name is empty")
	}
	if c.TopicTimeout <= 0 {
		return fmt.Errorf("config: topic_timeout must be positive, got %s", c.TopicTimeout)
	}
	for i, p := range c.Publishers {
		if strings.TrimSpace(p.Topic) == "" {
			return fmt.Errorf("config: publisher[%d] missing topic", i)
		}
		if strings.TrimSpace(p.Type) == "" {
			return fmt.Errorf("config: publisher[%d] missing type", i)
		}
		if strings.TrimSpace(p.Host) == "" {
			return fmt.Errorf("config: publisher[%d] missing host", i)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("config: publisher[%d] port %d out of range", i, p.Port)
		}
	}
	return nil
}

type fileConfig struct {
	NodeName       string              `toml:"node_name"`
	TopicTimeoutMS int64               `toml:"topic_timeout_ms"`
	ConnectTimeout string              `toml:"connect_timeout"`
	TCPNoDelay     bool                `toml:"tcp_nodelay"`
	MaxFrameBytes  uint32              `toml:"max_frame_bytes"`
	Publishers     []filePublisher     `toml:"publisher"`
	Metrics        fileMetricsSettings `toml:"metrics"`
}

type filePublisher struct {
	Topic  string `toml:"topic"`
	Type   string `toml:"type"`
	MD5Sum string `toml:"md5sum"`
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
}

type fileMetricsSettings struct {
	ServiceName      string `toml:"service_name"`
	OTLPEndpoint     string `toml:"otlp_endpoint"`
	OTLPGRPCEndpoint string `toml:"otlp_grpc_endpoint"`
}

// Load reads a TOML file over the defaults, then applies env overrides.
// Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("node_name") {
		if name := strings.TrimSpace(raw.NodeName); name != "" {
			cfg.NodeName = name
		}
	}
	if meta.IsDefined("topic_timeout_ms") {
		cfg.TopicTimeout = time.Duration(raw.TopicTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("tcp_nodelay") {
		cfg.TCPNoDelay = raw.TCPNoDelay
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("metrics", "service_name") {
		cfg.Metrics.ServiceName = strings.TrimSpace(raw.Metrics.ServiceName)
	}
	if meta.IsDefined("metrics", "otlp_endpoint") {
		cfg.Metrics.OTLPEndpoint = strings.TrimSpace(raw.Metrics.OTLPEndpoint)
	}
	if meta.IsDefined("metrics", "otlp_grpc_endpoint") {
		cfg.Metrics.OTLPGRPCEndpoint = strings.TrimSpace(raw.Metrics.OTLPGRPCEndpoint)
	}
	for _, p := range raw.Publishers {
		cfg.Publishers = append(cfg.Publishers, Publisher{
			Topic:  strings.TrimSpace(p.Topic),
			Type:   strings.TrimSpace(p.Type),
			MD5Sum: strings.TrimSpace(p.MD5Sum),
			Host:   strings.TrimSpace(p.Host),
			Port:   p.Port,
		})
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Config) error {
	if raw := strings.TrimSpace(os.Getenv(EnvTopicTimeoutMS)); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTopicTimeoutMS, err)
		}
		cfg.TopicTimeout = time.Duration(ms) * time.Millisecond
	}
	if name := strings.TrimSpace(os.Getenv(EnvNodeName)); name != "" {
		cfg.NodeName = name
	}
	return nil
}
