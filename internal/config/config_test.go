package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "ottdwire.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIPort, cfg.GetAPI().Port)
	assert.Equal(t, path, cfg.Path())
	require.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[api]")
	assert.Contains(t, string(data), "OTTDWIRE_SECTION_KEY")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.GetAPI(), again.GetAPI())
	assert.Equal(t, cfg.GetQuery(), again.GetQuery())
	assert.Equal(t, cfg.GetMQTT(), again.GetMQTT())
	assert.Equal(t, cfg.GetLogging(), again.GetLogging())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ottdwire.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
port = 9100

[query]
timeout_ms = 500
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.GetAPI().Port)
	assert.Equal(t, "127.0.0.1", cfg.GetAPI().ListenAddress)
	assert.Equal(t, 500*time.Millisecond, cfg.GetQuery().Timeout())
	assert.Equal(t, DefaultMasterServer, cfg.GetQuery().MasterServer)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ottdwire.toml")
	require.NoError(t, os.WriteFile(path, []byte("[api\nport = "), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"OTTDWIRE_API_PORT":            "9200",
		"OTTDWIRE_API_CORS_ORIGINS":    "https://a.example, https://b.example",
		"OTTDWIRE_MQTT_ENABLED":        "true",
		"OTTDWIRE_MQTT_BROKER":         "tcp://broker:1883",
		"OTTDWIRE_QUERY_TIMEOUT_MS":    "not a number",
		"OTTDWIRE_LOGGING_LEVEL":       "debug",
		"OTTDWIRE_QUERY_MASTER_SERVER": "master.example:3978",
		"OTTDWIRE_STORAGE_ENABLED":     "1",
		"OTTDWIRE_SCHEDULE_PRUNE_TIME": "02:15",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.applyEnvOverrides(lookup)

	assert.Equal(t, 9200, cfg.API.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, DefaultQueryTimeout, cfg.Query.TimeoutMs, "invalid numbers are ignored")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "master.example:3978", cfg.Query.MasterServer)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "02:15", cfg.Schedule.PruneTime)
}

func TestEnvOverridesFromProcess(t *testing.T) {
	t.Setenv("OTTDWIRE_API_LISTEN_ADDRESS", "0.0.0.0")
	cfg, err := Load(filepath.Join(t.TempDir(), "ottdwire.toml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.GetAPI().ListenAddress)
}

func TestAPIAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8079", APIConfig{ListenAddress: "127.0.0.1", Port: 8079}.Addr())
	assert.Equal(t, "[::1]:80", APIConfig{ListenAddress: "::1", Port: 80}.Addr())
}

func TestValidateDefaults(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)
	assert.NoError(t, result.Err())
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"port zero", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"port too high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"body limit", func(c *Config) { c.API.MaxBodyBytes = 0 }, "api.max_body_bytes"},
		{"tls without files", func(c *Config) { c.API.TLS = true; c.API.CertFile = "" }, "api.tls"},
		{"rate limit", func(c *Config) { c.API.RateLimitRPS = -1 }, "api.rate_limit_rps"},
		{"timeout", func(c *Config) { c.Query.TimeoutMs = 0 }, "query.timeout_ms"},
		{"retries", func(c *Config) { c.Query.Retries = -1 }, "query.retries"},
		{"concurrency", func(c *Config) { c.Query.Concurrency = 0 }, "query.concurrency"},
		{"master server", func(c *Config) { c.Query.MasterServer = "no-port" }, "query.master_server"},
		{"coordinator", func(c *Config) { c.Query.Coordinator = "no-port" }, "query.coordinator"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "::" }, "mqtt.broker"},
		{"mqtt scheme", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "http://x:1" }, "mqtt.broker"},
		{"mqtt qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"storage path", func(c *Config) { c.Storage.Enabled = true; c.Storage.Path = " " }, "storage.path"},
		{"retention", func(c *Config) { c.Storage.Enabled = true; c.Storage.RetentionDays = -1 }, "storage.retention_days"},
		{"refresh interval", func(c *Config) { c.Schedule.RefreshIntervalS = -1 }, "schedule.refresh_interval_s"},
		{"prune time", func(c *Config) { c.Schedule.PruneTime = "25:00" }, "schedule.prune_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			result := Validate(cfg)
			require.False(t, result.IsValid())
			assert.Equal(t, tt.field, result.Errors[0].Field)
			assert.ErrorContains(t, result.Err(), tt.field)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Port = 80
	cfg.Query.TimeoutMs = 50
	result := Validate(cfg)
	assert.True(t, result.IsValid())
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "api.port", result.Warnings[0].Field)
	assert.Equal(t, "query.timeout_ms", result.Warnings[1].Field)
}

func TestValidateScheduleWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Enabled = true
	cfg.Storage.RetentionDays = 0
	cfg.Schedule.RefreshIntervalS = 10
	cfg.Schedule.RefreshMaster = true
	cfg.Query.MasterServer = ""
	result := Validate(cfg)
	assert.True(t, result.IsValid(), "%v", result.Errors)

	var fields []string
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.Equal(t, []string{
		"storage.retention_days",
		"schedule.refresh_interval_s",
		"schedule.refresh_master",
	}, fields)
}

func TestScheduleTimes(t *testing.T) {
	sched := DefaultConfig().Schedule
	assert.Equal(t, 5*time.Minute, sched.RefreshInterval())

	now := time.Date(2024, 6, 1, 3, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC), sched.NextPrune(now))
	assert.Equal(t, time.Date(2024, 6, 2, 4, 0, 0, 0, time.UTC), sched.NextPrune(now.Add(time.Hour)))
}

func TestRunSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	answers := strings.Join([]string{
		"0.0.0.0", // listen address
		"",        // port keeps default
		"yes",     // tls
		"",        // master server
		"",        // coordinator
		"abc",     // timeout, invalid
		"y",       // mqtt
		"tcp://mqtt.local:1883",
		"",
		"bob",
		"secret",
	}, "\n") + "\n"

	var out strings.Builder
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(answers), &out))

	assert.Equal(t, "0.0.0.0", cfg.API.ListenAddress)
	assert.Equal(t, DefaultAPIPort, cfg.API.Port)
	assert.True(t, cfg.API.TLS)
	assert.Equal(t, DefaultMasterServer, cfg.Query.MasterServer)
	assert.Equal(t, DefaultCoordinator, cfg.Query.Coordinator)
	assert.Equal(t, DefaultQueryTimeout, cfg.Query.TimeoutMs)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://mqtt.local:1883", cfg.MQTT.Broker)
	assert.Equal(t, "ottdwire", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "bob", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Contains(t, out.String(), "Invalid number")
}

func TestRunSetupWizardEOFKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(""), &strings.Builder{}))
	assert.Equal(t, DefaultConfig().API, cfg.API)
	assert.False(t, cfg.MQTT.Enabled)
}
