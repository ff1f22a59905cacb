package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the exchange engine
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabasesConfig    `mapstructure:"database"`
	Consent      ConsentConfig      `mapstructure:"consent"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Notification NotificationConfig `mapstructure:"notification"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Hostname     string        `mapstructure:"hostname"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabasesConfig holds all database configurations
type DatabasesConfig struct {
	Exchange DatabaseConfig `mapstructure:"exchange"`
}

// DatabaseConfig holds individual database configuration
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"`
	Hostname        string        `mapstructure:"hostname"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConsentConfig holds consent lifecycle configuration
type ConsentConfig struct {
	// MaxDuration caps the validity a requester may ask for
	MaxDuration time.Duration `mapstructure:"max_duration"`
	// DefaultDuration applies when the request names no duration
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	// SweepInterval controls the periodic expiry sweep
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ExchangeConfig holds exchange delivery configuration
type ExchangeConfig struct {
	// DefaultDeadline applies when the initiation names no deadline
	DefaultDeadline time.Duration `mapstructure:"default_deadline"`
	// MaxRetries bounds re-sends after a deadline elapses
	MaxRetries int `mapstructure:"max_retries"`
	// InitialBackoff is the delay before the first retry; each further
	// retry multiplies it by BackoffFactor
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	// InstructionTimeout bounds the outbound instruction HTTP call
	InstructionTimeout time.Duration `mapstructure:"instruction_timeout"`
}

// NotificationConfig holds webhook delivery configuration
type NotificationConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Workers is the size of the delivery pool
	Workers int `mapstructure:"workers"`
	// QueueSize bounds the pending delivery queue; overflow is abandoned
	QueueSize int `mapstructure:"queue_size"`
}

// GatewayConfig holds callback processing configuration
type GatewayConfig struct {
	// Workers is the size of the pool draining per-request queues
	Workers int `mapstructure:"workers"`
	// QueueSize bounds each per-request event queue
	QueueSize int `mapstructure:"queue_size"`
}

// RegistryConfig holds the participant and patient key registry
type RegistryConfig struct {
	Participants []ParticipantConfig `mapstructure:"participants"`
	Patients     []PatientConfig     `mapstructure:"patients"`
}

// ParticipantConfig describes one HIP or HIU and its reachable endpoints
type ParticipantConfig struct {
	ID string `mapstructure:"id"`
	// Role is "HIP", "HIU" or "HIP,HIU"
	Role string `mapstructure:"role"`
	// CallbackURL receives exchange instructions (HIP role)
	CallbackURL string `mapstructure:"callback_url"`
	// NotifyURL receives status notifications
	NotifyURL string `mapstructure:"notify_url"`
	// PublicKey is the base64 Ed25519 key used to verify callback signatures
	PublicKey string `mapstructure:"public_key"`
	// Capabilities grants operations: view, decide, revoke, audit
	Capabilities []string `mapstructure:"capabilities"`
}

// PatientConfig holds a patient's registered decision-signing key
type PatientConfig struct {
	ID        string `mapstructure:"id"`
	PublicKey string `mapstructure:"public_key"`
	NotifyURL string `mapstructure:"notify_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("HIE")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	globalConfig = &config
	return &config, nil
}

// applyDefaults fills documented defaults for optional retry and timing knobs
func applyDefaults(config *Config) {
	if config.Server.ReadTimeout <= 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout <= 0 {
		config.Server.WriteTimeout = 15 * time.Second
	}
	if config.Server.IdleTimeout <= 0 {
		config.Server.IdleTimeout = 60 * time.Second
	}
	if config.Consent.MaxDuration <= 0 {
		config.Consent.MaxDuration = 365 * 24 * time.Hour
	}
	if config.Consent.DefaultDuration <= 0 {
		config.Consent.DefaultDuration = 30 * 24 * time.Hour
	}
	if config.Consent.SweepInterval <= 0 {
		config.Consent.SweepInterval = time.Minute
	}
	if config.Exchange.DefaultDeadline <= 0 {
		config.Exchange.DefaultDeadline = 60 * time.Second
	}
	if config.Exchange.MaxRetries <= 0 {
		config.Exchange.MaxRetries = 3
	}
	if config.Exchange.InitialBackoff <= 0 {
		config.Exchange.InitialBackoff = 2 * time.Second
	}
	if config.Exchange.BackoffFactor <= 1 {
		config.Exchange.BackoffFactor = 2
	}
	if config.Exchange.InstructionTimeout <= 0 {
		config.Exchange.InstructionTimeout = 10 * time.Second
	}
	if config.Notification.MaxAttempts <= 0 {
		config.Notification.MaxAttempts = 3
	}
	if config.Notification.Backoff <= 0 {
		config.Notification.Backoff = 5 * time.Second
	}
	if config.Notification.Timeout <= 0 {
		config.Notification.Timeout = 10 * time.Second
	}
	if config.Notification.Workers <= 0 {
		config.Notification.Workers = 8
	}
	if config.Notification.QueueSize <= 0 {
		config.Notification.QueueSize = 256
	}
	if config.Gateway.Workers <= 0 {
		config.Gateway.Workers = 4
	}
	if config.Gateway.QueueSize <= 0 {
		config.Gateway.QueueSize = 16
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Exchange.Hostname == "" {
		return fmt.Errorf("database hostname is required")
	}

	if config.Database.Exchange.Database == "" {
		return fmt.Errorf("database name is required")
	}

	for _, p := range config.Registry.Participants {
		if p.ID == "" {
			return fmt.Errorf("participant id is required")
		}
		if p.Role == "" {
			return fmt.Errorf("participant %s: role is required", p.ID)
		}
	}

	for _, p := range config.Registry.Patients {
		if p.ID == "" {
			return fmt.Errorf("patient id is required")
		}
		if p.PublicKey == "" {
			return fmt.Errorf("patient %s: public key is required", p.ID)
		}
	}

	return nil
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// SetGlobal sets the global configuration (for testing purposes)
func SetGlobal(cfg *Config) {
	globalConfig = cfg
}

// GetDSN returns the database connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		d.User,
		d.Password,
		d.Hostname,
		d.Port,
		d.Database,
	)
}

// GetServerAddress returns the server address in host:port format
func (s *ServerConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}
