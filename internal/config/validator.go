package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateRCON(&cfg.RCON, result)
	validateServer(&cfg.Server, result)
	validateApplicationData(&cfg.ApplicationData, result)

	if cfg.Server.GamePort == cfg.RCON.Port {
		result.AddError("server.game_port", "game port and RCON port must differ")
	}
	if cfg.ApplicationData.API.Enabled && cfg.ApplicationData.API.Port == cfg.RCON.Port {
		result.AddError("application_data.api.port", "API port and RCON port must differ")
	}

	return result
}

func validateRCON(data *RCONConfig, result *ValidationResult) {
	if strings.TrimSpace(data.Host) == "" {
		result.AddError("rcon.host", "RCON host is required")
	}
	validatePort(data.Port, "rcon.port", result)

	if data.Password == "" {
		result.AddWarning("rcon.password", "RCON password is empty; most servers reject empty passwords")
	}

	if data.ConnectTimeoutMS < 1 {
		result.AddError("rcon.connect_timeout_ms", "connect timeout must be positive")
	}
	if data.ResponseTimeoutMS < 1 {
		result.AddError("rcon.response_timeout_ms", "response timeout must be positive")
	}
	if data.MaxRetries < 0 {
		result.AddError("rcon.max_retries", "max retries cannot be negative")
	}
	if data.MaxRetries > 10 {
		result.AddWarning("rcon.max_retries",
			fmt.Sprintf("high retry count (%d) delays error reporting considerably", data.MaxRetries))
	}
	if data.RetryDelayMS < 0 {
		result.AddError("rcon.retry_delay_ms", "retry delay cannot be negative")
	}
}

func validateServer(data *ServerConfig, result *ValidationResult) {
	if strings.TrimSpace(data.SaveDirectory) == "" {
		result.AddError("server.save_directory", "save directory is required")
	} else if _, err := os.Stat(data.SaveDirectory); os.IsNotExist(err) {
		result.AddWarning("server.save_directory",
			fmt.Sprintf("directory does not exist: %s", data.SaveDirectory))
	}

	if strings.TrimSpace(data.Executable) == "" {
		result.AddWarning("server.executable", "no server executable configured, save loading is disabled")
	} else if _, err := os.Stat(data.Executable); os.IsNotExist(err) {
		result.AddWarning("server.executable",
			fmt.Sprintf("executable does not exist: %s", data.Executable))
	}

	validatePort(data.GamePort, "server.game_port", result)

	if strings.TrimSpace(data.UploadName) == "" {
		result.AddError("server.upload_name", "upload name is required")
	}
	if data.ProbeAttempts < 1 {
		result.AddError("server.probe_attempts", "must probe at least once")
	}
	if data.ProbeIntervalMS < 100 {
		result.AddWarning("server.probe_interval_ms", "probe interval below 100ms may flood the server")
	}
	if data.SettleDelayMS < 0 {
		result.AddError("server.settle_delay_ms", "settle delay cannot be negative")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// API
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.Token == "" {
			result.AddWarning("application_data.api.token", "API token is empty, control routes are unauthenticated")
		}
		if data.API.TLSEnabled {
			if strings.TrimSpace(data.API.TLSCertFile) == "" {
				result.AddError("application_data.api.tls_cert_file",
					"TLS certificate file is required when TLS is enabled")
			}
			if strings.TrimSpace(data.API.TLSKeyFile) == "" {
				result.AddError("application_data.api.tls_key_file",
					"TLS key file is required when TLS is enabled")
			}
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Webhook
	if url := strings.TrimSpace(data.Webhook.URL); url != "" &&
		!strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		result.AddError("application_data.webhook.url", "webhook URL must start with http:// or https://")
	}

	// Database
	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}

	// Scheduler
	if data.Scheduler.AutosaveIntervalMin < 0 {
		result.AddError("application_data.scheduler.autosave_interval_min", "autosave interval cannot be negative")
	}
	if data.Health.ConnectionCheckSec < 0 || data.Health.DiskCheckSec < 0 || data.Health.HeartbeatSec < 0 {
		result.AddError("application_data.health", "health check intervals cannot be negative")
	}
	if data.Health.ConnectionCheckSec > 0 && data.Health.ConnectionCheckSec < 5 {
		result.AddWarning("application_data.health.connection_check_sec",
			"connection checks more often than every 5s log in to the server constantly")
	}

	if data.Scheduler.HistoryRetentionDays < 1 {
		result.AddError("application_data.scheduler.history_retention_days",
			"retention days must be at least 1")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
