// Package config handles loading, validation and persistence of the ottdwire
// TOML configuration file.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/ottdwire/ottdwire/internal/util"
)

const (
	DefaultConfigFile   = "ottdwire.toml"
	DefaultAPIPort      = 8079
	DefaultServerPort   = 3979
	DefaultMasterServer = "master.openttd.org:3978"
	DefaultCoordinator  = "coordinator.openttd.org:3976"
	DefaultQueryTimeout = 2000

	envPrefix = "OTTDWIRE_"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Logging  util.LogConfig `toml:"logging"`
	API      APIConfig      `toml:"api"`
	Query    QueryConfig    `toml:"query"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	Storage  StorageConfig  `toml:"storage"`
	Schedule ScheduleConfig `toml:"schedule"`
}

// APIConfig configures the HTTP decode service.
type APIConfig struct {
	ListenAddress string   `toml:"listen_address"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	MaxBodyBytes  int64    `toml:"max_body_bytes"`
	RateLimitRPS  int      `toml:"rate_limit_rps"` // 0 disables rate limiting
	TLS           bool     `toml:"tls"`
	CertFile      string   `toml:"cert_file"`
	KeyFile       string   `toml:"key_file"`
}

// QueryConfig configures the UDP query client.
type QueryConfig struct {
	BindAddress  string `toml:"bind_address"`
	TimeoutMs    int    `toml:"timeout_ms"`
	Retries      int    `toml:"retries"`
	MasterServer string `toml:"master_server"`
	Coordinator  string `toml:"coordinator"`
	Concurrency  int    `toml:"concurrency"`
}

// MQTTConfig configures the telemetry publisher.
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         int    `toml:"qos"`
}

// StorageConfig configures the registry of discovered servers.
type StorageConfig struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"` // servers unseen for longer are pruned
}

// ScheduleConfig configures the background jobs of the serve command.
type ScheduleConfig struct {
	RefreshIntervalS int    `toml:"refresh_interval_s"` // 0 disables refreshing
	RefreshMaster    bool   `toml:"refresh_master"`
	RefreshListing   bool   `toml:"refresh_listing"`
	ListingRevision  string `toml:"listing_revision"`
	PruneTime        string `toml:"prune_time"` // daily, as HH:MM local time
}

// DefaultConfig returns a configuration with every option at its default.
func DefaultConfig() *Config {
	return &Config{
		path:    DefaultConfigFile,
		Logging: util.DefaultLogConfig(),
		API: APIConfig{
			ListenAddress: "127.0.0.1",
			Port:          DefaultAPIPort,
			CORSOrigins:   []string{"*"},
			MaxBodyBytes:  1 << 20,
			RateLimitRPS:  20,
			CertFile:      "ottdwire.crt",
			KeyFile:       "ottdwire.key",
		},
		Query: QueryConfig{
			TimeoutMs:    DefaultQueryTimeout,
			Retries:      1,
			MasterServer: DefaultMasterServer,
			Coordinator:  DefaultCoordinator,
			Concurrency:  16,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "ottdwire",
			TopicPrefix: "ottdwire",
		},
		Storage: StorageConfig{
			Path:          "ottdwire.db",
			RetentionDays: 7,
		},
		Schedule: ScheduleConfig{
			RefreshIntervalS: 300,
			RefreshListing:   true,
			ListingRevision:  "14.1",
			PruneTime:        "04:00",
		},
	}
}

// Load reads the configuration at path. A missing file is created with the
// defaults. Environment variables named OTTDWIRE_<SECTION>_<KEY> override
// values from the file.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	cfg := DefaultConfig()
	cfg.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("config file not found, writing defaults")
		if err := cfg.Save(); err != nil {
			// defaults are still usable without a file
			log.Warn().Err(err).Msg("failed to write default config")
		}
	} else {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			log.Warn().Interface("keys", undecoded).Msg("unknown config keys ignored")
		}
	}

	cfg.applyEnvOverrides(os.LookupEnv)

	log.Debug().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// applyEnvOverrides applies OTTDWIRE_SECTION_KEY variables. Values that do not
// parse are logged and skipped.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Warn().Str("variable", envPrefix+key).Str("value", v).Msg("ignoring non-numeric override")
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				log.Warn().Str("variable", envPrefix+key).Str("value", v).Msg("ignoring non-boolean override")
				return
			}
			*dst = b
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	str("LOGGING_LEVEL", &c.Logging.Level)
	str("LOGGING_FORMAT", &c.Logging.Format)
	str("LOGGING_DIRECTORY", &c.Logging.Directory)

	str("API_LISTEN_ADDRESS", &c.API.ListenAddress)
	num("API_PORT", &c.API.Port)
	flag("API_TLS", &c.API.TLS)
	num("API_RATE_LIMIT_RPS", &c.API.RateLimitRPS)
	if v, ok := lookup(envPrefix + "API_CORS_ORIGINS"); ok {
		c.API.CORSOrigins = splitList(v)
	}

	str("QUERY_BIND_ADDRESS", &c.Query.BindAddress)
	num("QUERY_TIMEOUT_MS", &c.Query.TimeoutMs)
	num("QUERY_RETRIES", &c.Query.Retries)
	str("QUERY_MASTER_SERVER", &c.Query.MasterServer)
	str("QUERY_COORDINATOR", &c.Query.Coordinator)
	num("QUERY_CONCURRENCY", &c.Query.Concurrency)

	flag("MQTT_ENABLED", &c.MQTT.Enabled)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	flag("STORAGE_ENABLED", &c.Storage.Enabled)
	str("STORAGE_PATH", &c.Storage.Path)
	num("STORAGE_RETENTION_DAYS", &c.Storage.RetentionDays)

	num("SCHEDULE_REFRESH_INTERVAL_S", &c.Schedule.RefreshIntervalS)
	flag("SCHEDULE_REFRESH_MASTER", &c.Schedule.RefreshMaster)
	flag("SCHEDULE_REFRESH_LISTING", &c.Schedule.RefreshListing)
	str("SCHEDULE_PRUNE_TIME", &c.Schedule.PruneTime)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the current configuration to its path.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "# ottdwire configuration\n#\n# Environment variables override these settings:\n# %sSECTION_KEY (e.g. %sAPI_PORT=9000)\n\n", envPrefix, envPrefix)
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// SetPath changes the file Save writes to.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Path returns the config file path.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetQuery returns a copy of the query configuration.
func (c *Config) GetQuery() QueryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Query
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetStorage returns a copy of the storage configuration.
func (c *Config) GetStorage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage
}

// GetSchedule returns a copy of the schedule configuration.
func (c *Config) GetSchedule() ScheduleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Schedule
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() util.LogConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Addr returns the host:port the API listens on.
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.ListenAddress, strconv.Itoa(a.Port))
}

// RefreshInterval returns the period of the refresh job.
func (s ScheduleConfig) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalS) * time.Second
}

// NextPrune returns the first prune time after now. An unparsable
// PruneTime falls back to 04:00.
func (s ScheduleConfig) NextPrune(now time.Time) time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", s.PruneTime); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Timeout returns the per-attempt reply timeout.
func (q QueryConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutMs) * time.Millisecond
}
