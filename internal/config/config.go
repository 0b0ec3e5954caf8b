package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue modes, selected once at startup from configuration.
const (
	ModeDistributed = "distributed"
	ModeEmbedded    = "embedded"
)

// Staging drivers
const (
	StagingDriverDir   = "dir"
	StagingDriverMinio = "minio"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Staging  StagingConfig  `yaml:"staging"`
	Limits   LimitsConfig   `yaml:"limits"`
	Queue    JobQueueConfig `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sticker  StickerConfig  `yaml:"sticker"`
	Intake   IntakeConfig   `yaml:"intake"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              int           `yaml:"port"`
	StaticDir         string        `yaml:"static_dir"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxInflightEvents int           `yaml:"max_inflight_events"` // accepted events still in intake; more get 503
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	Output         string `yaml:"output"`
	EnableCaller   bool   `yaml:"enable_caller"`
	MaskIdentities bool   `yaml:"mask_identities"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// An empty Host selects the embedded queue.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Outbound   OutboundConfig   `yaml:"outbound"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// OutboundConfig holds the exchange/queue the transport bridge reads
// notices and stickers from.
type OutboundConfig struct {
	Exchange   ExchangeConfig `yaml:"exchange"`
	Queue      QueueConfig    `yaml:"queue"`
	RoutingKey string         `yaml:"routing_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig configures the cross-process job gate and admission stats.
// An empty Host disables both.
type RedisConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	PollEvery   time.Duration `yaml:"poll_every"`
	StatsTTL    time.Duration `yaml:"stats_ttl"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration. An empty Host
// keeps usage counters in memory.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// StagingConfig selects where raw images wait for a worker.
type StagingConfig struct {
	Driver string      `yaml:"driver"`
	Dir    string      `yaml:"dir"`
	Minio  MinioConfig `yaml:"minio"`
}

// MinioConfig holds object storage settings for the minio staging driver.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// LimitsConfig holds admission limits.
type LimitsConfig struct {
	DailyLimit   int    `yaml:"daily_limit"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
	Timezone     string `yaml:"timezone"`
}

// JobQueueConfig holds the throughput ceiling shared by both queue modes.
type JobQueueConfig struct {
	MinInterval   time.Duration `yaml:"min_interval"`
	EmbeddedDelay time.Duration `yaml:"embedded_delay"`
	Buffer        int           `yaml:"buffer"`
}

// WorkerConfig holds worker settings
type WorkerConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsPort     int           `yaml:"metrics_port"` // worker-service only; 0 disables
}

// PipelineConfig holds image pipeline settings
type PipelineConfig struct {
	Remover RemoverConfig `yaml:"remover"`
	Outline OutlineConfig `yaml:"outline"`
}

// RemoverConfig configures the external background removal tool. An empty
// Command disables the stage.
type RemoverConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// OutlineConfig holds the outline synthesis constants.
type OutlineConfig struct {
	CanvasSize int     `yaml:"canvas_size"`
	InnerSize  int     `yaml:"inner_size"`
	BlurSigma  float64 `yaml:"blur_sigma"`
	Threshold  uint8   `yaml:"threshold"`
}

// StickerConfig holds the fixed sticker metadata.
type StickerConfig struct {
	Pack       string   `yaml:"pack"`
	Author     string   `yaml:"author"`
	Crop       string   `yaml:"crop"`
	Quality    int      `yaml:"quality"`
	Background string   `yaml:"background"`
	Emojis     []string `yaml:"emojis"`
	Size       int      `yaml:"size"`
}

// IntakeConfig holds source filters and notice texts.
type IntakeConfig struct {
	IgnoredSuffixes   []string `yaml:"ignored_suffixes"`
	IgnoredIdentities []string `yaml:"ignored_identities"`
	LimitNotice       string   `yaml:"limit_notice"`
	SizeNotice        string   `yaml:"size_notice"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides connection settings from the environment. Presence of
// RABBITMQ_HOST is what selects the distributed queue.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup("RABBITMQ_HOST"); ok {
		c.RabbitMQ.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup("REDIS_HOST"); ok {
		c.Redis.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup("DATABASE_HOST"); ok {
		c.Database.Host = strings.TrimSpace(v)
	}

	ports := []struct {
		key string
		dst *int
	}{
		{"RABBITMQ_PORT", &c.RabbitMQ.Port},
		{"REDIS_PORT", &c.Redis.Port},
		{"DATABASE_PORT", &c.Database.Port},
		{"PORT", &c.Server.Port},
	}
	for _, p := range ports {
		v, ok := lookup(p.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", p.key, err)
		}
		*p.dst = n
	}

	if v, ok := lookup("RABBITMQ_USER"); ok {
		c.RabbitMQ.User = v
	}
	if v, ok := lookup("RABBITMQ_PASSWORD"); ok {
		c.RabbitMQ.Password = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup("DATABASE_PASSWORD"); ok {
		c.Database.Password = v
	}

	return nil
}

// QueueMode returns the queue variant selected by configuration.
func (c *Config) QueueMode() string {
	if c.RabbitMQ.Host != "" {
		return ModeDistributed
	}
	return ModeEmbedded
}

// WorkerEnabled reports whether this process drains the queue.
func (c *Config) WorkerEnabled() bool {
	return c.Worker.Enabled == nil || *c.Worker.Enabled
}

// Location returns the time zone daily quotas roll over in.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Limits.Timezone
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid limits timezone %q: %w", tz, err)
	}
	return loc, nil
}

// ApplyDefaults fills unset values with the documented defaults.
func (c *Config) ApplyDefaults() {
	setString(&c.App.Name, "sticker-service")
	setString(&c.App.Environment, "development")

	setInt(&c.Server.Port, 3000)
	setString(&c.Server.StaticDir, "public")
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 15*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)
	setInt(&c.Server.MaxInflightEvents, 64)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")

	setInt(&c.RabbitMQ.Port, 5672)
	setString(&c.RabbitMQ.User, "guest")
	setString(&c.RabbitMQ.Password, "guest")
	setString(&c.RabbitMQ.VHost, "/")
	setString(&c.RabbitMQ.Exchange.Name, "stickers")
	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setString(&c.RabbitMQ.Queue.Name, "sticker_jobs")
	setString(&c.RabbitMQ.RoutingKey, "convert")
	setString(&c.RabbitMQ.Outbound.Exchange.Name, "stickers_outbound")
	setString(&c.RabbitMQ.Outbound.Exchange.Type, "direct")
	setString(&c.RabbitMQ.Outbound.Queue.Name, "sticker_outbound")
	setString(&c.RabbitMQ.Outbound.RoutingKey, "deliver")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setInt(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDuration(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)
	if c.RabbitMQ.Publish.BackoffMultiplier <= 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2
	}
	setInt(&c.RabbitMQ.Consumer.PrefetchCount, 1)

	setInt(&c.Redis.Port, 6379)
	setString(&c.Redis.KeyPrefix, "stickers")
	setDuration(&c.Redis.LockTTL, 5*time.Minute)
	setDuration(&c.Redis.PollEvery, 250*time.Millisecond)
	setDuration(&c.Redis.StatsTTL, 48*time.Hour)
	setDuration(&c.Redis.DialTimeout, 5*time.Second)

	setInt(&c.Database.Port, 5432)
	setString(&c.Database.SSLMode, "disable")
	setInt(&c.Database.MaxOpenConns, 10)
	setInt(&c.Database.MaxIdleConns, 5)
	setDuration(&c.Database.ConnMaxLifetime, 30*time.Minute)
	setDuration(&c.Database.ConnMaxIdleTime, 5*time.Minute)

	setString(&c.Staging.Driver, StagingDriverDir)
	setString(&c.Staging.Dir, "temp")
	setString(&c.Staging.Minio.Bucket, "sticker-staging")

	setInt(&c.Limits.DailyLimit, 25)
	if c.Limits.MaxFileBytes <= 0 {
		c.Limits.MaxFileBytes = 200 * 1024
	}

	setDuration(&c.Queue.MinInterval, 2*time.Second)
	setDuration(&c.Queue.EmbeddedDelay, time.Second)
	setInt(&c.Queue.Buffer, 256)

	setDuration(&c.Worker.JobTimeout, 3*time.Minute)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)

	setDuration(&c.Pipeline.Remover.Timeout, time.Minute)
	setInt(&c.Pipeline.Outline.CanvasSize, 512)
	setInt(&c.Pipeline.Outline.InnerSize, 400)
	if c.Pipeline.Outline.BlurSigma <= 0 {
		c.Pipeline.Outline.BlurSigma = 15
	}
	if c.Pipeline.Outline.Threshold == 0 {
		c.Pipeline.Outline.Threshold = 50
	}

	setString(&c.Sticker.Pack, "Sticker Bot")
	setString(&c.Sticker.Author, "Seu Nome")
	setString(&c.Sticker.Crop, "full")
	setInt(&c.Sticker.Quality, 100)
	setString(&c.Sticker.Background, "transparent")
	setInt(&c.Sticker.Size, 512)

	if c.Intake.IgnoredSuffixes == nil {
		c.Intake.IgnoredSuffixes = []string{"@g.us", "status@broadcast"}
	}
	setString(&c.Intake.LimitNotice, "🚫 *Limite Diário Atingido*\n\nVocê já gerou %d figurinhas hoje. Tente novamente amanhã!")
	setString(&c.Intake.SizeNotice, "⚠️ *Arquivo Muito Grande*\n\nSua imagem tem %dKB. O limite é %dKB.\n\nTente diminuir a qualidade ou cortar a imagem.")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Host != "" {
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
		if c.RabbitMQ.Outbound.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq outbound exchange name is required")
		}
	}

	// Several processes may consume the broker queue; only the redis gate
	// keeps them to one job at a time.
	if c.RabbitMQ.Host != "" && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required when a broker is configured")
	}

	if c.Redis.Host != "" && (c.Redis.Port < MinPort || c.Redis.Port > MaxPort) {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.Database.Host != "" {
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	switch c.Staging.Driver {
	case StagingDriverDir:
		if c.Staging.Dir == "" {
			return fmt.Errorf("staging dir is required")
		}
	case StagingDriverMinio:
		if c.Staging.Minio.Endpoint == "" {
			return fmt.Errorf("staging minio endpoint is required")
		}
		if c.Staging.Minio.Bucket == "" {
			return fmt.Errorf("staging minio bucket is required")
		}
	default:
		return fmt.Errorf("unknown staging driver: %q", c.Staging.Driver)
	}

	if c.Limits.DailyLimit <= 0 {
		return fmt.Errorf("limits daily_limit must be greater than 0")
	}
	if c.Limits.MaxFileBytes <= 0 {
		return fmt.Errorf("limits max_file_bytes must be greater than 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Queue.MinInterval < 0 {
		return fmt.Errorf("queue min_interval must not be negative")
	}
	if c.Queue.Buffer <= 0 {
		return fmt.Errorf("queue buffer must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}
	if c.Worker.MetricsPort < 0 || c.Worker.MetricsPort > MaxPort {
		return fmt.Errorf("invalid worker metrics port: %d", c.Worker.MetricsPort)
	}
	if c.QueueMode() == ModeEmbedded && !c.WorkerEnabled() {
		return fmt.Errorf("worker must be enabled when no broker is configured")
	}

	o := c.Pipeline.Outline
	if o.CanvasSize <= 0 || o.InnerSize <= 0 || o.InnerSize >= o.CanvasSize {
		return fmt.Errorf("invalid outline sizes: inner %d, canvas %d", o.InnerSize, o.CanvasSize)
	}

	if c.Sticker.Quality < 1 || c.Sticker.Quality > 100 {
		return fmt.Errorf("sticker quality must be between 1 and 100")
	}
	if c.Sticker.Crop != "full" && c.Sticker.Crop != "crop" {
		return fmt.Errorf("unknown sticker crop mode: %q", c.Sticker.Crop)
	}

	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}
