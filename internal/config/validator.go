package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
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

// Err returns the first error, or nil when the configuration is valid.
func (r *ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Validate checks every section of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}
	validateLogging(cfg, result)
	validateAPI(&cfg.API, result)
	validateQuery(&cfg.Query, result)
	validateMQTT(&cfg.MQTT, result)
	validateStorage(&cfg.Storage, result)
	validateSchedule(&cfg.Schedule, &cfg.Storage, &cfg.Query, result)
	return result
}

func validateLogging(cfg *Config, result *ValidationResult) {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err != nil {
		result.AddError("logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "", "console", "json":
	default:
		result.AddError("logging.format", fmt.Sprintf("unknown format %q (want console or json)", cfg.Logging.Format))
	}
	if cfg.Logging.Directory != "" && cfg.Logging.MaxBackups < 1 {
		result.AddWarning("logging.max_backups", "no old log files will be kept")
	}
}

func validateAPI(api *APIConfig, result *ValidationResult) {
	validatePort(api.Port, "api.port", result)

	if api.ListenAddress != "" && net.ParseIP(api.ListenAddress) == nil && api.ListenAddress != "localhost" {
		result.AddWarning("api.listen_address", fmt.Sprintf("%q is not an IP address and will be resolved", api.ListenAddress))
	}
	if api.MaxBodyBytes <= 0 {
		result.AddError("api.max_body_bytes", "must be positive")
	} else if api.MaxBodyBytes < 3 {
		result.AddError("api.max_body_bytes", "must allow at least one packet header")
	}
	for _, origin := range api.CORSOrigins {
		if origin == "*" && len(api.CORSOrigins) > 1 {
			result.AddWarning("api.cors_origins", "wildcard origin makes the other entries redundant")
			break
		}
	}
	if api.RateLimitRPS < 0 {
		result.AddError("api.rate_limit_rps", "must not be negative")
	}
	if api.TLS && (api.CertFile == "" || api.KeyFile == "") {
		result.AddError("api.tls", "cert_file and key_file are required when tls is enabled")
	}
}

func validateQuery(q *QueryConfig, result *ValidationResult) {
	if q.TimeoutMs <= 0 {
		result.AddError("query.timeout_ms", "must be positive")
	} else if q.TimeoutMs < 100 {
		result.AddWarning("query.timeout_ms", "timeouts below 100ms will miss most remote servers")
	}
	if q.Retries < 0 {
		result.AddError("query.retries", "must not be negative")
	}
	if q.Concurrency < 1 {
		result.AddError("query.concurrency", "must be at least 1")
	}
	if q.MasterServer != "" {
		if _, _, err := net.SplitHostPort(q.MasterServer); err != nil {
			result.AddError("query.master_server", fmt.Sprintf("want host:port: %v", err))
		}
	}
	if q.Coordinator != "" {
		if _, _, err := net.SplitHostPort(q.Coordinator); err != nil {
			result.AddError("query.coordinator", fmt.Sprintf("want host:port: %v", err))
		}
	}
	if q.BindAddress != "" {
		if _, _, err := net.SplitHostPort(q.BindAddress); err != nil {
			result.AddError("query.bind_address", fmt.Sprintf("want host:port: %v", err))
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	u, err := url.Parse(m.Broker)
	if err != nil || u.Host == "" {
		result.AddError("mqtt.broker", fmt.Sprintf("invalid broker URL %q", m.Broker))
	} else {
		switch u.Scheme {
		case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
		default:
			result.AddError("mqtt.broker", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
	}
	if m.QoS < 0 || m.QoS > 2 {
		result.AddError("mqtt.qos", fmt.Sprintf("invalid QoS %d (must be 0-2)", m.QoS))
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddError("mqtt.topic_prefix", "topic prefix is required")
	}
	if m.Username != "" && m.Password == "" {
		result.AddWarning("mqtt.password", "username set without a password")
	}
}

func validateStorage(st *StorageConfig, result *ValidationResult) {
	if !st.Enabled {
		return
	}
	if strings.TrimSpace(st.Path) == "" {
		result.AddError("storage.path", "path is required when storage is enabled")
	}
	if st.RetentionDays < 0 {
		result.AddError("storage.retention_days", "must not be negative")
	} else if st.RetentionDays == 0 {
		result.AddWarning("storage.retention_days", "servers are never pruned")
	}
}

func validateSchedule(sc *ScheduleConfig, st *StorageConfig, q *QueryConfig, result *ValidationResult) {
	if sc.RefreshIntervalS < 0 {
		result.AddError("schedule.refresh_interval_s", "must not be negative")
	} else if sc.RefreshIntervalS > 0 && sc.RefreshIntervalS < 30 {
		result.AddWarning("schedule.refresh_interval_s", "refreshing more often than every 30s floods the master server")
	}
	if sc.PruneTime != "" {
		if _, err := time.Parse("15:04", sc.PruneTime); err != nil {
			result.AddError("schedule.prune_time", fmt.Sprintf("want HH:MM, got %q", sc.PruneTime))
		}
	}
	if sc.RefreshMaster && q.MasterServer == "" {
		result.AddWarning("schedule.refresh_master", "no master server configured")
	}
	if sc.RefreshListing && q.Coordinator == "" {
		result.AddWarning("schedule.refresh_listing", "no coordinator configured")
	}
	if sc.RefreshIntervalS > 0 && !st.Enabled && !sc.RefreshMaster && !sc.RefreshListing {
		result.AddWarning("schedule.refresh_interval_s", "nothing to refresh without storage or a server source")
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

// IsPortAvailable checks if a TCP address can be bound.
func IsPortAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
