// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Ingress   IngressConfig   `mapstructure:"ingress"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Frame     FrameConfig     `mapstructure:"frame"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Output    OutputConfig    `mapstructure:"output"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	TLSCertFile       string        `mapstructure:"tls_cert_file"`
	TLSKeyFile        string        `mapstructure:"tls_key_file"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ReadTimeout bounds reading a whole request including its body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// RequestTimeout bounds handler time for read-only routes. Ingest routes are exempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TLSEnabled reports whether both certificate files are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IngressConfig controls payload framing and limits.
type IngressConfig struct {
	Mode            string `mapstructure:"mode"`
	MaxPayloadBytes int64  `mapstructure:"max_payload_bytes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FrameConfig describes the pixel layout of incoming frames.
type FrameConfig struct {
	Width    int    `mapstructure:"width"`
	Height   int    `mapstructure:"height"`
	Channels int    `mapstructure:"channels"`
	Input    string `mapstructure:"input"`
}

// QueueConfig sizes the in-memory frame queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// WorkersConfig sizes the persistence pool.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// OutputConfig selects the artifact encoding.
type OutputConfig struct {
	Format      string `mapstructure:"format"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	Digest      string `mapstructure:"digest"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   LocalConfig  `mapstructure:"local"`
	GCS     GCSConfig    `mapstructure:"gcs"`
	MinIO   MinIOConfig  `mapstructure:"minio"`
	Memory  MemoryConfig `mapstructure:"memory"`
}

// LocalConfig configures the filesystem store.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSConfig configures the Cloud Storage store.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// MinIOConfig configures the S3-compatible store.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

// MemoryConfig configures the in-memory artifact index used when no DSN is set.
type MemoryConfig struct {
	Retention int `mapstructure:"retention"`
}

// IndexConfig controls the Postgres artifact index.
type IndexConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// NotifyConfig selects the artifact notification backend.
type NotifyConfig struct {
	Backend  string       `mapstructure:"backend"`
	Encoding string       `mapstructure:"encoding"`
	Topic    string       `mapstructure:"topic"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
	AMQP     AMQPConfig   `mapstructure:"amqp"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic"`
}

// AMQPConfig holds broker settings for AMQP notifications.
type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// ShutdownConfig bounds the shutdown phases.
type ShutdownConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRAMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8443)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.read_timeout", "5m")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("ingress.mode", "batch")
	v.SetDefault("ingress.max_payload_bytes", 256<<20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("frame.width", 1024)
	v.SetDefault("frame.height", 1024)
	v.SetDefault("frame.channels", 4)
	v.SetDefault("frame.input", "raw")
	v.SetDefault("queue.capacity", 10000)
	v.SetDefault("workers.count", 4)
	v.SetDefault("output.format", "png")
	v.SetDefault("output.jpeg_quality", 90)
	v.SetDefault("output.digest", "blake3")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.local.dir", "frames")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.bucket", "")
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.memory.retention", 1024)
	v.SetDefault("index.dsn", "")
	v.SetDefault("index.table", "frame_artifacts")
	v.SetDefault("index.max_conns", 4)
	v.SetDefault("index.min_conns", 0)
	v.SetDefault("index.max_conn_lifetime", "30m")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.encoding", "json")
	v.SetDefault("notify.topic", "frame-artifacts")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
	v.SetDefault("notify.amqp.url", "")
	v.SetDefault("notify.amqp.exchange", "")
	v.SetDefault("notify.amqp.routing_key", "")
	v.SetDefault("shutdown.timeout", "10s")
	v.SetDefault("shutdown.drain_timeout", "30s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "frameingest")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	switch c.Ingress.Mode {
	case "fixed", "batch":
	default:
		return fmt.Errorf("ingress.mode must be fixed or batch, got %q", c.Ingress.Mode)
	}
	if c.Ingress.MaxPayloadBytes <= 0 {
		return fmt.Errorf("ingress.max_payload_bytes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Frame.Input != "encoded" && (c.Frame.Width <= 0 || c.Frame.Height <= 0) {
		return fmt.Errorf("frame.width and frame.height must be > 0")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required for the minio backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Notify.Backend {
	case "", "none", "memory":
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic are required for pubsub")
		}
	case "amqp":
		if c.Notify.AMQP.URL == "" {
			return fmt.Errorf("notify.amqp.url is required for amqp")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	if c.Shutdown.Timeout <= 0 || c.Shutdown.DrainTimeout <= 0 {
		return fmt.Errorf("shutdown.timeout and shutdown.drain_timeout must be > 0")
	}
	return nil
}
