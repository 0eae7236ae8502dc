// Package config handles configuration loading, validation, and persistence
// for the RCON bridge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultAPIPort     = 5000
	DefaultRCONPort    = 27015
	DefaultGamePort    = 34197
	DefaultMQTTPort    = 1883
	DefaultTopicPrefix = "rconbridge"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	RCON            RCONConfig      `json:"rcon"`
	Server          ServerConfig    `json:"server"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RCONConfig describes how to reach the server's remote console.
type RCONConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Password          string `json:"password"`
	ConnectTimeoutMS  int    `json:"connect_timeout_ms"`
	ResponseTimeoutMS int    `json:"response_timeout_ms"`
	MaxRetries        int    `json:"max_retries"`
	RetryDelayMS      int    `json:"retry_delay_ms"`
}

// ConnectTimeout returns the dial timeout.
func (r RCONConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMS) * time.Millisecond
}

// ResponseTimeout returns the per-request response timeout.
func (r RCONConfig) ResponseTimeout() time.Duration {
	return time.Duration(r.ResponseTimeoutMS) * time.Millisecond
}

// RetryDelay returns the base reconnect delay.
func (r RCONConfig) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelayMS) * time.Millisecond
}

// ServerConfig describes the game server process and its saves.
type ServerConfig struct {
	// Process
	Executable    string `json:"executable"`
	WorkDirectory string `json:"work_directory"`
	ProcessName   string `json:"process_name"`
	GamePort      int    `json:"game_port"`
	SettingsPath  string `json:"settings_path"`
	ModDirectory  string `json:"mod_directory"`

	// Saves
	SaveDirectory string `json:"save_directory"`
	LockFile      string `json:"lock_file"`
	UploadName    string `json:"upload_name"`

	// Swap timing
	SettleDelayMS   int `json:"settle_delay_ms"`
	ProbeIntervalMS int `json:"probe_interval_ms"`
	ProbeAttempts   int `json:"probe_attempts"`
}

// SettleDelay returns the wait between stopping and restarting the server.
func (s ServerConfig) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelayMS) * time.Millisecond
}

// ProbeInterval returns the readiness polling interval.
func (s ServerConfig) ProbeInterval() time.Duration {
	return time.Duration(s.ProbeIntervalMS) * time.Millisecond
}

// ApplicationData contains bridge application configuration.
type ApplicationData struct {
	API       APIConfig       `json:"api"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Database  DatabaseConfig  `json:"database"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Health    HealthConfig    `json:"health"`
	Webhook   WebhookConfig   `json:"webhook"`
	Logging   LoggingConfig   `json:"logging"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	BindAddress    string   `json:"bind_address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig holds the history database settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SchedulerConfig holds periodic task settings.
type SchedulerConfig struct {
	// AutosaveIntervalMin triggers a server-side save every N minutes; 0 disables it.
	AutosaveIntervalMin  int    `json:"autosave_interval_min"`
	HistoryCleanupTime   string `json:"history_cleanup_time"`
	HistoryRetentionDays int    `json:"history_retention_days"`
}

// HealthConfig holds health check intervals in seconds; 0 disables a check.
type HealthConfig struct {
	ConnectionCheckSec int `json:"connection_check_sec"`
	DiskCheckSec       int `json:"disk_check_sec"`
	HeartbeatSec       int `json:"heartbeat_sec"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ConnectionCheckInterval returns the reachability check period.
func (h HealthConfig) ConnectionCheckInterval() time.Duration { return seconds(h.ConnectionCheckSec) }

// DiskCheckInterval returns the save volume check period.
func (h HealthConfig) DiskCheckInterval() time.Duration { return seconds(h.DiskCheckSec) }

// HeartbeatInterval returns the heartbeat period.
func (h HealthConfig) HeartbeatInterval() time.Duration { return seconds(h.HeartbeatSec) }

// WebhookConfig holds admin notification settings. An empty URL disables
// notifications.
type WebhookConfig struct {
	URL                 string `json:"url"`
	NotifyOnDisk        bool   `json:"notify_on_disk"`
	NotifyOnSwapFailure bool   `json:"notify_on_swap_failure"`
	NotifyOnServerDown  bool   `json:"notify_on_server_down"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RCON: RCONConfig{
			Host:              "127.0.0.1",
			Port:              DefaultRCONPort,
			ConnectTimeoutMS:  5000,
			ResponseTimeoutMS: 10000,
			MaxRetries:        3,
			RetryDelayMS:      1000,
		},
		Server: ServerConfig{
			GamePort:        DefaultGamePort,
			SaveDirectory:   "saves",
			UploadName:      "uploaded",
			SettleDelayMS:   3000,
			ProbeIntervalMS: 2000,
			ProbeAttempts:   30,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:      true,
				BindAddress:  "0.0.0.0",
				Port:         DefaultAPIPort,
				RateLimitRPS: 20,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        DefaultMQTTPort,
				TopicPrefix: DefaultTopicPrefix,
			},
			Database: DatabaseConfig{
				Path: filepath.Join(DefaultConfigDir, "history.db"),
			},
			Scheduler: SchedulerConfig{
				HistoryCleanupTime:   "04:00",
				HistoryRetentionDays: 30,
			},
			Health: HealthConfig{
				ConnectionCheckSec: 30,
				DiskCheckSec:       300,
				HeartbeatSec:       60,
			},
			Webhook: WebhookConfig{
				NotifyOnDisk:        true,
				NotifyOnSwapFailure: true,
				NotifyOnServerDown:  true,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file, then applies environment
// overrides. Overrides are never written back to disk.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		cfg := DefaultConfig()
		cfg.path = configPath
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option known to this build.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays RCON_*, SAVE_DIRECTORY and API_* environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	strVars := map[string]*string{
		"RCON_HOST":      &c.RCON.Host,
		"RCON_PASSWORD":  &c.RCON.Password,
		"SAVE_DIRECTORY": &c.Server.SaveDirectory,
		"API_TOKEN":      &c.ApplicationData.API.Token,
	}
	intVars := map[string]*int{
		"RCON_PORT":                &c.RCON.Port,
		"RCON_CONNECT_TIMEOUT_MS":  &c.RCON.ConnectTimeoutMS,
		"RCON_RESPONSE_TIMEOUT_MS": &c.RCON.ResponseTimeoutMS,
		"RCON_MAX_RETRIES":         &c.RCON.MaxRetries,
		"API_PORT":                 &c.ApplicationData.API.Port,
	}

	for key, dst := range strVars {
		if v, ok := lookup(key); ok {
			*dst = v
			log.Debug().Str("env", key).Msg("config overridden from environment")
		}
	}
	for key, dst := range intVars {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q is not an integer", key, v)
		}
		*dst = n
		log.Debug().Str("env", key).Int("value", n).Msg("config overridden from environment")
	}
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRCON returns a copy of the RCON configuration.
func (c *Config) GetRCON() RCONConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RCON
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SwapEnabled reports whether save swaps can launch a server process.
func (c *Config) SwapEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.Executable != ""
}
