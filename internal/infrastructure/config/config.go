package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MajorDoMo bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Pipe       PipeConfig       `yaml:"pipe"`
	Database   DatabaseConfig   `yaml:"database"`
	Audit      AuditConfig      `yaml:"audit"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	WebPanel   WebPanelConfig   `yaml:"webpanel"`
	Logging    LoggingConfig    `yaml:"logging"`
	Update     UpdateConfig     `yaml:"update"`
}

// ControllerConfig contains MajorDoMo HTTP API settings.
type ControllerConfig struct {
	// BaseURL is the MajorDoMo server root, e.g. "http://192.168.88.2".
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	// RetryAttempts is the number of retries for transient network failures.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the linear backoff step between retries in milliseconds.
	RetryDelay int `yaml:"retry_delay"`
}

// CatalogConfig contains device alias catalog settings.
type CatalogConfig struct {
	// Path is the alias catalog file (hand-editable JSON).
	Path string `yaml:"path"`

	// Watch enables automatic reload when the file changes.
	Watch bool `yaml:"watch"`
}

// PipeConfig contains AI-agent transport settings.
type PipeConfig struct {
	// Endpoint is the websocket URL of the agent endpoint, credential included.
	Endpoint string `yaml:"endpoint"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// MaxMessageSize bounds inbound frame size in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// PingInterval is the keepalive ping period in seconds.
	PingInterval int `yaml:"ping_interval"`
}

// ReconnectConfig contains reconnection backoff settings.
type ReconnectConfig struct {
	// InitialDelay is the backoff floor in seconds.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay is the backoff ceiling in seconds.
	MaxDelay int `yaml:"max_delay"`

	// Jitter enables randomised backoff to avoid thundering reconnects.
	Jitter bool `yaml:"jitter"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AuditConfig contains action audit trail settings.
type AuditConfig struct {
	// BufferSize is the async writer queue depth. Records are dropped
	// (and counted) when the queue is full; dispatch never blocks on audit.
	BufferSize int `yaml:"buffer_size"`

	// RetentionDays is how long audit records are kept. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// SchedulerConfig contains time-based task settings.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the schedule file (hand-editable JSON).
	Path string `yaml:"path"`
}

// TelegramConfig contains chat-bot settings.
type TelegramConfig struct {
	Enabled bool `yaml:"enabled"`

	// Token is the bot token from @BotFather.
	Token string `yaml:"token"`

	// ChatID receives error notifications.
	ChatID string `yaml:"chat_id"`

	// AuthPassword gates command access via /auth.
	AuthPassword string `yaml:"auth_password"`

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// MQTTConfig contains the optional MQTT command channel settings.
type MQTTConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Broker      BrokerConfig   `yaml:"broker"`
	Auth        MQTTAuthConfig `yaml:"auth"`
	QoS         int            `yaml:"qos"`
	TopicPrefix string         `yaml:"topic_prefix"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains optional dispatch telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// WebPanelConfig contains the HTTP panel server settings.
type WebPanelConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Timeouts PanelTimeouts `yaml:"timeouts"`
	Auth     WebPanelAuth  `yaml:"auth"`
	CORS     CORSConfig    `yaml:"cors"`
}

// PanelTimeouts contains HTTP timeout settings in seconds.
type PanelTimeouts struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebPanelAuth contains panel authentication settings.
type WebPanelAuth struct {
	// Password is the operator login password.
	Password string `yaml:"password"`

	// JWTSecret signs session tokens. Always override in production.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is the session token lifetime in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// UpdateConfig contains self-update check settings.
type UpdateConfig struct {
	Enabled bool `yaml:"enabled"`

	// Repo is the GitHub repository checked for releases ("owner/name").
	Repo string `yaml:"repo"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MDBRIDGE_SECTION_KEY
// For example: MDBRIDGE_CONTROLLER_URL, MDBRIDGE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			BaseURL:       "http://127.0.0.1",
			Timeout:       15,
			RetryAttempts: 2,
			RetryDelay:    500,
		},
		Catalog: CatalogConfig{
			Path:  "./data/device_aliases.json",
			Watch: true,
		},
		Pipe: PipeConfig{
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				Jitter:       true,
			},
			MaxMessageSize: 65536,
			PingInterval:   30,
		},
		Database: DatabaseConfig{
			Path:        "./data/mdbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Audit: AuditConfig{
			BufferSize:    256,
			RetentionDays: 7,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Path:    "./data/schedule.json",
		},
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		MQTT: MQTTConfig{
			Broker: BrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mdbridge",
			},
			QoS:         1,
			TopicPrefix: "mdbridge",
		},
		WebPanel: WebPanelConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: PanelTimeouts{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: WebPanelAuth{
				TokenTTL: 720,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Update: UpdateConfig{
			Repo: "golnet1/mcp-majordomo-xiaozhi",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MDBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("MDBRIDGE_CONTROLLER_URL"); v != "" {
		cfg.Controller.BaseURL = v
	}

	// Catalog
	if v := os.Getenv("MDBRIDGE_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}

	// Pipe
	if v := os.Getenv("MDBRIDGE_PIPE_ENDPOINT"); v != "" {
		cfg.Pipe.Endpoint = v
	}

	// Database
	if v := os.Getenv("MDBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Telegram (same variable names the systemd units used)
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_AUTH_PASSWORD"); v != "" {
		cfg.Telegram.AuthPassword = v
	}

	// MQTT
	if v := os.Getenv("MDBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MDBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MDBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MDBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// WebPanel - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("MDBRIDGE_JWT_SECRET"); v != "" {
		cfg.WebPanel.Auth.JWTSecret = v
	}
	if v := os.Getenv("MDBRIDGE_PANEL_PASSWORD"); v != "" {
		cfg.WebPanel.Auth.Password = v
	}
	if v := os.Getenv("MDBRIDGE_PANEL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.WebPanel.Port = port
		}
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Controller.BaseURL == "" {
		errs = append(errs, "controller.base_url is required")
	}
	if c.Controller.Timeout <= 0 {
		errs = append(errs, "controller.timeout must be positive")
	}
	if c.Controller.RetryAttempts < 0 {
		errs = append(errs, "controller.retry_attempts must not be negative")
	}

	if c.Catalog.Path == "" {
		errs = append(errs, "catalog.path is required")
	}

	if c.Pipe.Endpoint != "" {
		if !strings.HasPrefix(c.Pipe.Endpoint, "ws://") && !strings.HasPrefix(c.Pipe.Endpoint, "wss://") {
			errs = append(errs, "pipe.endpoint must be a ws:// or wss:// URL")
		}
	}
	if c.Pipe.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "pipe.reconnect.initial_delay must be positive")
	}
	if c.Pipe.Reconnect.MaxDelay < c.Pipe.Reconnect.InitialDelay {
		errs = append(errs, "pipe.reconnect.max_delay must be >= initial_delay")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}

	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
	}

	if c.WebPanel.Enabled {
		if c.WebPanel.Port <= 0 || c.WebPanel.Port > 65535 {
			errs = append(errs, "webpanel.port must be between 1 and 65535")
		}
		if c.WebPanel.Auth.JWTSecret == "" {
			errs = append(errs, "webpanel.auth.jwt_secret is required (set MDBRIDGE_JWT_SECRET)")
		}
		if c.WebPanel.Auth.Password == "" {
			errs = append(errs, "webpanel.auth.password is required (set MDBRIDGE_PANEL_PASSWORD)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ControllerTimeout returns the controller request timeout as a Duration.
func (c *Config) ControllerTimeout() time.Duration {
	return time.Duration(c.Controller.Timeout) * time.Second
}

// ControllerRetryDelay returns the retry backoff step as a Duration.
func (c *Config) ControllerRetryDelay() time.Duration {
	return time.Duration(c.Controller.RetryDelay) * time.Millisecond
}

// ReconnectFloor returns the pipe backoff floor as a Duration.
func (c *Config) ReconnectFloor() time.Duration {
	return time.Duration(c.Pipe.Reconnect.InitialDelay) * time.Second
}

// ReconnectCeiling returns the pipe backoff ceiling as a Duration.
func (c *Config) ReconnectCeiling() time.Duration {
	return time.Duration(c.Pipe.Reconnect.MaxDelay) * time.Second
}
