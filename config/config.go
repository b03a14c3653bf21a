package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration. Both daemons read
// the same file; hived uses the server/database/notification sections, scoutd
// uses the hunter/scout/sniper sections.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Hunter     HunterConfig     `yaml:"hunter"`
	Scout      ScoutConfig      `yaml:"scout"`
	Sniper     SniperConfig     `yaml:"sniper"`
}

// ServerConfig holds the hive server configuration.
type ServerConfig struct {
	Port                    int           `yaml:"port"`
	RateLimitPerSec         float64       `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds         int           `yaml:"cache_ttl_seconds"`
	HeartbeatTimeoutSeconds int           `yaml:"heartbeat_timeout_seconds"`
	SweepIntervalSeconds    int           `yaml:"sweep_interval_seconds"`
	HeartbeatTimeout        time.Duration `yaml:"-"`
	SweepInterval           time.Duration `yaml:"-"`
}

// DatabaseConfig holds the archive database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "sqlite" or "postgres"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// TelegramConfig holds the bot credentials for Telegram notifications.
// Both fields empty disables the Telegram sender.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// HunterConfig holds the client-side coordination settings.
type HunterConfig struct {
	ServerURL                string        `yaml:"server_url"`
	Name                     string        `yaml:"name"`
	ReconnectIntervalSeconds int           `yaml:"reconnect_interval_seconds"`
	MaxReconnectAttempts     int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
	HeartbeatIntervalSeconds int           `yaml:"heartbeat_interval_seconds"`
	ReconnectInterval        time.Duration `yaml:"-"`
	HeartbeatInterval        time.Duration `yaml:"-"`
}

// ScoutConfig holds the poller settings. The rotation cooldown and the standard
// cooldown are deliberately separate tunables; the short value only applies
// after a successful identity rotation.
type ScoutConfig struct {
	AvailabilityURL         string            `yaml:"availability_url"`
	Param                   string            `yaml:"param"`
	Headers                 map[string]string `yaml:"headers"`
	HTTPProxy               string            `yaml:"http_proxy"`
	SessionFile             string            `yaml:"session_file"`
	SessionWatchSeconds     int               `yaml:"session_watch_seconds"`
	MinIntervalMillis       int               `yaml:"min_interval_ms"`
	MaxJitterMillis         int               `yaml:"max_jitter_ms"`
	CooldownSeconds         int               `yaml:"cooldown_seconds"`
	RotationCooldownSeconds int               `yaml:"rotation_cooldown_seconds"`
	MaxCooldownSeconds      int               `yaml:"max_cooldown_seconds"`
	MaxRetries              int               `yaml:"max_retries"`
	BackoffMultiplier       float64           `yaml:"backoff_multiplier"`
	MinInterval             time.Duration     `yaml:"-"`
	MaxJitter               time.Duration     `yaml:"-"`
	Cooldown                time.Duration     `yaml:"-"`
	RotationCooldown        time.Duration     `yaml:"-"`
	MaxCooldown             time.Duration     `yaml:"-"`
	SessionWatch            time.Duration     `yaml:"-"`
}

// SniperConfig holds the booking executor settings.
type SniperConfig struct {
	BookingURL       string        `yaml:"booking_url"`
	TokenURL         string        `yaml:"token_url"`
	HTTPProxy        string        `yaml:"http_proxy"`
	TokenHeader      string        `yaml:"token_header"`
	TokenField       string        `yaml:"token_field"`
	VisaType         string        `yaml:"visa_type"`
	Center           string        `yaml:"center"`
	Category         string        `yaml:"category"`
	Retries          int           `yaml:"retries"`
	RetryDelayMillis int           `yaml:"retry_delay_ms"`
	RetryDelay       time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its documented default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}
	if cfg.Server.HeartbeatTimeoutSeconds <= 0 {
		cfg.Server.HeartbeatTimeoutSeconds = 60
	}
	if cfg.Server.SweepIntervalSeconds <= 0 {
		cfg.Server.SweepIntervalSeconds = 30
	}
	cfg.Server.HeartbeatTimeout = time.Duration(cfg.Server.HeartbeatTimeoutSeconds) * time.Second
	cfg.Server.SweepInterval = time.Duration(cfg.Server.SweepIntervalSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "slothive.db"
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 2
	}

	if cfg.Hunter.ServerURL == "" {
		cfg.Hunter.ServerURL = "ws://localhost:8080/ws"
	}
	if cfg.Hunter.ReconnectIntervalSeconds <= 0 {
		cfg.Hunter.ReconnectIntervalSeconds = 5
	}
	if cfg.Hunter.HeartbeatIntervalSeconds <= 0 {
		cfg.Hunter.HeartbeatIntervalSeconds = 30
	}
	cfg.Hunter.ReconnectInterval = time.Duration(cfg.Hunter.ReconnectIntervalSeconds) * time.Second
	cfg.Hunter.HeartbeatInterval = time.Duration(cfg.Hunter.HeartbeatIntervalSeconds) * time.Second

	if cfg.Scout.SessionFile == "" {
		cfg.Scout.SessionFile = "session.json"
	}
	if cfg.Scout.SessionWatchSeconds <= 0 {
		cfg.Scout.SessionWatchSeconds = 5
	}
	if cfg.Scout.MinIntervalMillis <= 0 {
		cfg.Scout.MinIntervalMillis = 10000
	}
	if cfg.Scout.MaxJitterMillis <= 0 {
		cfg.Scout.MaxJitterMillis = 5000
	}
	if cfg.Scout.CooldownSeconds <= 0 {
		cfg.Scout.CooldownSeconds = 60
	}
	if cfg.Scout.RotationCooldownSeconds <= 0 {
		cfg.Scout.RotationCooldownSeconds = 2
	}
	if cfg.Scout.MaxCooldownSeconds <= 0 {
		cfg.Scout.MaxCooldownSeconds = 300
	}
	if cfg.Scout.MaxRetries <= 0 {
		cfg.Scout.MaxRetries = 3
	}
	if cfg.Scout.BackoffMultiplier <= 1 {
		cfg.Scout.BackoffMultiplier = 2
	}
	cfg.Scout.MinInterval = time.Duration(cfg.Scout.MinIntervalMillis) * time.Millisecond
	cfg.Scout.MaxJitter = time.Duration(cfg.Scout.MaxJitterMillis) * time.Millisecond
	cfg.Scout.Cooldown = time.Duration(cfg.Scout.CooldownSeconds) * time.Second
	cfg.Scout.RotationCooldown = time.Duration(cfg.Scout.RotationCooldownSeconds) * time.Second
	cfg.Scout.MaxCooldown = time.Duration(cfg.Scout.MaxCooldownSeconds) * time.Second
	cfg.Scout.SessionWatch = time.Duration(cfg.Scout.SessionWatchSeconds) * time.Second

	if cfg.Sniper.TokenHeader == "" {
		cfg.Sniper.TokenHeader = "X-Verification-Token"
	}
	if cfg.Sniper.TokenField == "" {
		cfg.Sniper.TokenField = "verification_token"
	}
	if cfg.Sniper.Retries <= 0 {
		cfg.Sniper.Retries = 2
	}
	if cfg.Sniper.RetryDelayMillis <= 0 {
		cfg.Sniper.RetryDelayMillis = 500
	}
	cfg.Sniper.RetryDelay = time.Duration(cfg.Sniper.RetryDelayMillis) * time.Millisecond
}
