package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service     ServiceConfig     `yaml:"service" json:"service"`
	Postgres    PostgresConfig    `yaml:"postgres" json:"postgres"`
	Redis       RedisConfig       `yaml:"redis" json:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka" json:"kafka"`
	Ingestion   IngestionConfig   `yaml:"ingestion" json:"ingestion"`
	Quota       QuotaConfig       `yaml:"quota" json:"quota"`
	RpcHealth   RpcHealthConfig   `yaml:"rpc_health" json:"rpc_health"`
	ChainPolicy ChainPolicyConfig `yaml:"chain_policy" json:"chain_policy"`
	Jobs        JobsConfig        `yaml:"jobs" json:"jobs"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" json:"scheduler"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"` // prometheus /metrics
	Env      string `yaml:"env" json:"env"`
}

type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"` // seconds
	AutoMigrate     bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// DSN builds a libpq style connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

type KafkaConfig struct {
	Enabled  bool        `yaml:"enabled" json:"enabled"`
	Brokers  []string    `yaml:"brokers" json:"brokers"`
	GroupID  string      `yaml:"group_id" json:"group_id"`
	ClientID string      `yaml:"client_id" json:"client_id"`
	Topics   KafkaTopics `yaml:"topics" json:"topics"`
	SASL     SASLConfig  `yaml:"sasl" json:"sasl"`
}

type SASLConfig struct {
	Enable    bool   `yaml:"enable" json:"enable"`
	Mechanism string `yaml:"mechanism" json:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
}

type KafkaTopics struct {
	BlockPayloads   string `yaml:"block_payloads" json:"block_payloads"`
	OrbitEvidence   string `yaml:"orbit_evidence" json:"orbit_evidence"`
	IntegrityStatus string `yaml:"integrity_status" json:"integrity_status"`
	SyncControl     string `yaml:"sync_control" json:"sync_control"`
}

type IngestionConfig struct {
	// MaxRedeliveries bounds how often a retryable payload is put back on the topic.
	MaxRedeliveries int `yaml:"max_redeliveries" json:"max_redeliveries"`
	RetryBackoffMs  int `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
}

type QuotaConfig struct {
	// DefaultQuota is the per-window transaction allowance; 0 disables enforcement.
	DefaultQuota int64  `yaml:"default_quota" json:"default_quota"`
	Window       string `yaml:"window" json:"window"` // monthly, daily
}

type RpcHealthConfig struct {
	MaxFailedAttempts int    `yaml:"max_failed_attempts" json:"max_failed_attempts"`
	StopPolicy        string `yaml:"stop_policy" json:"stop_policy"` // once, every
	ProbeTimeoutMs    int    `yaml:"probe_timeout_ms" json:"probe_timeout_ms"`
	ProbeConcurrency  int    `yaml:"probe_concurrency" json:"probe_concurrency"`
}

type ChainPolicyConfig struct {
	SourceURL       string  `yaml:"source_url" json:"source_url"`
	ForbiddenChains []int64 `yaml:"forbidden_chains" json:"forbidden_chains"`
	TTLSeconds      int     `yaml:"ttl_seconds" json:"ttl_seconds"`
}

type JobsConfig struct {
	RpcProbe       JobConfig `yaml:"rpc_probe" json:"rpc_probe"`
	DedupReconcile JobConfig `yaml:"dedup_reconcile" json:"dedup_reconcile"`
	RollupRefresh  JobConfig `yaml:"rollup_refresh" json:"rollup_refresh"`
	PartitionMgmt  JobConfig `yaml:"partition_mgmt" json:"partition_mgmt"`
	QuotaRollover  JobConfig `yaml:"quota_rollover" json:"quota_rollover"`
}

type JobConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Cron    string `yaml:"cron" json:"cron"`
	// Days is the lookback for rollups and the lookahead in months for partitions.
	Days int `yaml:"days" json:"days"`
}

type SchedulerConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads a YAML file, expanding ${VAR:default} references first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML content and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Quota.DefaultQuota < 0 {
		return fmt.Errorf("quota.default_quota must not be negative")
	}
	switch c.Quota.Window {
	case "monthly", "daily":
	default:
		return fmt.Errorf("quota.window %q is not supported", c.Quota.Window)
	}
	switch c.RpcHealth.StopPolicy {
	case "once", "every":
	default:
		return fmt.Errorf("rpc_health.stop_policy %q is not supported", c.RpcHealth.StopPolicy)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

func (c RpcHealthConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

func (c ChainPolicyConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// expandEnvVars replaces ${VAR:default} with the environment value or the default.
func expandEnvVars(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			break
		}
		end += start

		name, def, _ := strings.Cut(s[start+2:end], ":")
		value := os.Getenv(name)
		if value == "" {
			value = def
		}
		b.WriteString(s[:start])
		b.WriteString(value)
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "ethernal-indexer"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50070
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 9170
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if len(cfg.Redis.Addresses) == 0 {
		cfg.Redis.Addresses = []string{"localhost:6379"}
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "ethernal-indexer"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}
	if cfg.Kafka.Topics.BlockPayloads == "" {
		cfg.Kafka.Topics.BlockPayloads = "block-payloads"
	}
	if cfg.Kafka.Topics.OrbitEvidence == "" {
		cfg.Kafka.Topics.OrbitEvidence = "orbit-evidence"
	}
	if cfg.Kafka.Topics.IntegrityStatus == "" {
		cfg.Kafka.Topics.IntegrityStatus = "integrity-status"
	}
	if cfg.Kafka.Topics.SyncControl == "" {
		cfg.Kafka.Topics.SyncControl = "explorer-sync-control"
	}

	if cfg.Ingestion.MaxRedeliveries == 0 {
		cfg.Ingestion.MaxRedeliveries = 10
	}
	if cfg.Ingestion.RetryBackoffMs == 0 {
		cfg.Ingestion.RetryBackoffMs = 500
	}

	if cfg.Quota.Window == "" {
		cfg.Quota.Window = "monthly"
	}

	if cfg.RpcHealth.MaxFailedAttempts == 0 {
		cfg.RpcHealth.MaxFailedAttempts = 3
	}
	if cfg.RpcHealth.StopPolicy == "" {
		cfg.RpcHealth.StopPolicy = "once"
	}
	if cfg.RpcHealth.ProbeTimeoutMs == 0 {
		cfg.RpcHealth.ProbeTimeoutMs = 10000
	}
	if cfg.RpcHealth.ProbeConcurrency == 0 {
		cfg.RpcHealth.ProbeConcurrency = 8
	}

	if cfg.ChainPolicy.TTLSeconds == 0 {
		cfg.ChainPolicy.TTLSeconds = 300
	}

	defaultJob(&cfg.Jobs.RpcProbe, "0 * * * * *", 0)
	defaultJob(&cfg.Jobs.DedupReconcile, "0 15 * * * *", 0)
	defaultJob(&cfg.Jobs.RollupRefresh, "0 */10 * * * *", 2)
	defaultJob(&cfg.Jobs.PartitionMgmt, "0 0 3 * * *", 2)
	defaultJob(&cfg.Jobs.QuotaRollover, "0 5 * * * *", 0)

	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 3
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func defaultJob(j *JobConfig, cron string, days int) {
	if j.Cron == "" {
		j.Cron = cron
	}
	if j.Days == 0 {
		j.Days = days
	}
}

// GetEnvInt returns the integer value of key or defaultVal.
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString returns the value of key or defaultVal.
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
