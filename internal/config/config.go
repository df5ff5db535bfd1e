package config

import (
	"fmt"
	"time"
)

// Config represents the global configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Report    ReportConfig    `mapstructure:"report"`
	Agg       AggConfig       `mapstructure:"agg"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Award     AwardConfig     `mapstructure:"award"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig represents HTTP-layer rate limiting configuration
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// ReportConfig covers ingest validation and risk limits.
type ReportConfig struct {
	Timezone             string `mapstructure:"timezone"`
	MaxDurationPerReport int    `mapstructure:"max_duration_per_report"` // seconds
	MaxClockSkewMs       int64  `mapstructure:"max_clock_skew_ms"`
	DedupEnabled         bool   `mapstructure:"dedup_enabled"`
	DedupTTLSeconds      int64  `mapstructure:"dedup_ttl_seconds"`
	MaxReportsPerMinute  int64  `mapstructure:"max_reports_per_minute"`
	MaxDurationPerMinute int64  `mapstructure:"max_duration_per_minute"`
}

// AggConfig covers daily aggregation: the direct path has no knobs, the
// buffered path and its flush scheduler are configured here.
type AggConfig struct {
	BufferEnabled         bool  `mapstructure:"buffer_enabled"`
	BufferTTLSeconds      int64 `mapstructure:"buffer_ttl_seconds"`
	FlushIntervalMs       int64 `mapstructure:"flush_interval_ms"`
	FlushInitialDelayMs   int64 `mapstructure:"flush_initial_delay_ms"`
	FlushBatchSize        int   `mapstructure:"flush_batch_size"`
	InflightTimeoutMs     int64 `mapstructure:"inflight_timeout_ms"`
	HotThresholdPerMinute int64 `mapstructure:"hot_threshold_per_minute"`
	HotWindowSeconds      int64 `mapstructure:"hot_window_seconds"`
}

// OutboxConfig covers the outbox publisher.
type OutboxConfig struct {
	ScanIntervalMs     int64  `mapstructure:"scan_interval_ms"`
	ScanInitialDelayMs int64  `mapstructure:"scan_initial_delay_ms"`
	BatchSize          int    `mapstructure:"batch_size"`
	MaxRetry           int    `mapstructure:"max_retry"`
	BaseBackoffSeconds int64  `mapstructure:"base_backoff_seconds"`
	BackoffCapSeconds  int64  `mapstructure:"backoff_cap_seconds"`
	Topic              string `mapstructure:"topic"`
	RoutingKey         string `mapstructure:"routing_key"`
}

// AwardConfig covers issuance defaults.
type AwardConfig struct {
	DefaultPrizeCode string `mapstructure:"default_prize_code"`
}

// RulesConfig points at the rule/feature snapshot files.
type RulesConfig struct {
	RuleFile    string `mapstructure:"rule_file"`
	FeatureFile string `mapstructure:"feature_file"`
}

// AuditConfig covers the fire-and-forget audit sink.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

// GetAddr returns the server address
func (s *ServerConfig) GetAddr() string {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetDSN returns the database DSN
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=30s&writeTimeout=30s",
		d.Username, d.Password, d.Host, d.Port, d.DBName)
}

// GetAddr returns the Redis address
func (r *RedisConfig) GetAddr() string {
	if r.Host == "" {
		r.Host = "localhost"
	}
	if r.Port == 0 {
		r.Port = 6379
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("invalid report timezone %q: %w", c.Report.Timezone, err)
	}

	if c.Outbox.MaxRetry <= 0 {
		return fmt.Errorf("outbox max_retry must be positive")
	}

	return nil
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = 3
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 300
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}

	if c.Report.Timezone == "" {
		c.Report.Timezone = "UTC"
	}
	if c.Report.MaxDurationPerReport == 0 {
		c.Report.MaxDurationPerReport = 60
	}
	if c.Report.MaxClockSkewMs == 0 {
		c.Report.MaxClockSkewMs = 300_000
	}
	if c.Report.DedupTTLSeconds == 0 {
		c.Report.DedupTTLSeconds = 172_800
	}
	if c.Report.MaxReportsPerMinute == 0 {
		c.Report.MaxReportsPerMinute = 120
	}
	if c.Report.MaxDurationPerMinute == 0 {
		c.Report.MaxDurationPerMinute = 300
	}

	if c.Agg.BufferTTLSeconds == 0 {
		c.Agg.BufferTTLSeconds = 86_400
	}
	if c.Agg.FlushIntervalMs == 0 {
		c.Agg.FlushIntervalMs = 5_000
	}
	if c.Agg.FlushInitialDelayMs == 0 {
		c.Agg.FlushInitialDelayMs = 2_000
	}
	if c.Agg.FlushBatchSize == 0 {
		c.Agg.FlushBatchSize = 200
	}
	if c.Agg.InflightTimeoutMs == 0 {
		c.Agg.InflightTimeoutMs = 30_000
	}
	if c.Agg.HotThresholdPerMinute == 0 {
		c.Agg.HotThresholdPerMinute = 30
	}
	if c.Agg.HotWindowSeconds == 0 {
		c.Agg.HotWindowSeconds = 600
	}

	if c.Outbox.ScanIntervalMs == 0 {
		c.Outbox.ScanIntervalMs = 2_000
	}
	if c.Outbox.ScanInitialDelayMs == 0 {
		c.Outbox.ScanInitialDelayMs = 1_000
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetry == 0 {
		c.Outbox.MaxRetry = 10
	}
	if c.Outbox.BaseBackoffSeconds == 0 {
		c.Outbox.BaseBackoffSeconds = 2
	}
	if c.Outbox.BackoffCapSeconds == 0 {
		c.Outbox.BackoffCapSeconds = 300
	}
	if c.Outbox.Topic == "" {
		c.Outbox.Topic = "rewardflow.award"
	}
	if c.Outbox.RoutingKey == "" {
		c.Outbox.RoutingKey = "award.created"
	}

	if c.Award.DefaultPrizeCode == "" {
		c.Award.DefaultPrizeCode = "COIN"
	}

	if c.Rules.RuleFile == "" {
		c.Rules.RuleFile = "configs/rules.json"
	}
	if c.Rules.FeatureFile == "" {
		c.Rules.FeatureFile = "configs/features.json"
	}

	if c.Audit.Topic == "" {
		c.Audit.Topic = "rewardflow.audit"
	}
}

// BizLocation returns the business timezone location. Validate has
// already checked it parses.
func (c *Config) BizLocation() *time.Location {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
