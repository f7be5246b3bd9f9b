package util

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	logger, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})
}

func TestInitLoggerJSON(t *testing.T) {
	restoreLogger(t)
	var buf bytes.Buffer
	require.NoError(t, initLogger(LogConfig{Level: "warn", Format: "json"}, &buf))

	logger := ComponentLogger("udp_query")
	logger.Info().Msg("dropped")
	logger.Warn().Str("remote", "192.0.2.1:3979").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), buf.String())
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "udp_query", line["component"])
	assert.Equal(t, "ottdwire", line["app"])
	assert.Equal(t, "kept", line["message"])
}

func TestInitLoggerBadLevelFallsBackToInfo(t *testing.T) {
	restoreLogger(t)
	require.NoError(t, initLogger(LogConfig{Level: "chatty"}, &bytes.Buffer{}))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInitLoggerFile(t *testing.T) {
	restoreLogger(t)
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, initLogger(LogConfig{Level: "info", Format: "console", Directory: dir, MaxBackups: 3}, &bytes.Buffer{}))

	log.Info().Msg("to file")

	matches, err := filepath.Glob(filepath.Join(dir, "ottdwire_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to file"`)
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"ottdwire_2024-01-01.log",
		"ottdwire_2024-01-02.log",
		"ottdwire_2024-01-03.log",
		"unrelated.log",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	cleanOldLogs(dir, 1)

	assert.False(t, FileExists(filepath.Join(dir, "ottdwire_2024-01-01.log")))
	assert.False(t, FileExists(filepath.Join(dir, "ottdwire_2024-01-02.log")))
	assert.True(t, FileExists(filepath.Join(dir, "ottdwire_2024-01-03.log")))
	assert.True(t, FileExists(filepath.Join(dir, "unrelated.log")))
}

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "api.crt")
	keyFile := filepath.Join(dir, "api.key")

	require.NoError(t, EnsureSelfSignedCert(certFile, keyFile, []string{"127.0.0.1", "ottdwire.local", ""}))

	_, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	pemData, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(pemData)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, []string{"ottdwire.local"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.True(t, cert.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
}

func TestEnsureSelfSignedCertKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "api.crt")
	keyFile := filepath.Join(dir, "api.key")
	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, nil))

	before, err := os.ReadFile(certFile)
	require.NoError(t, err)
	require.NoError(t, EnsureSelfSignedCert(certFile, keyFile, nil))
	after, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.NotEmpty(t, info.GoVersion)
	assert.Positive(t, info.CPUCores)
}

func TestGetProcessInfo(t *testing.T) {
	info := GetProcessInfo()
	assert.Equal(t, int32(os.Getpid()), info.PID)
	assert.Positive(t, info.Goroutines)
}

func TestGetLocalIP(t *testing.T) {
	ip, err := GetLocalIP()
	require.NoError(t, err)
	assert.NotNil(t, net.ParseIP(ip))
}
