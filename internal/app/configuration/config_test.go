package configuration

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processConfig(t *testing.T, env map[string]string) Config {
	t.Helper()
	var config Config
	err := envconfig.ProcessWith(context.Background(), &config, envconfig.MapLookuper(env))
	require.NoError(t, err)
	return config
}

func Test_ConfigDefaults(t *testing.T) {
	config := processConfig(t, map[string]string{})

	assert.Equal(t, "./pacts", config.PactDir)
	assert.Equal(t, "127.0.0.1", config.BindAddress)
	assert.Equal(t, 0, config.Port)
	assert.Equal(t, "http", config.Transport)
	assert.Empty(t, config.TLSCertFile)
	assert.Empty(t, config.TLSKeyFile)
	assert.Equal(t, "merge", config.WriteMode)
	assert.Equal(t, 3, config.LogLevel)
	assert.Equal(t, []string{"stdout"}, config.LogSinks)
}

func Test_ConfigFromEnvironment(t *testing.T) {
	config := processConfig(t, map[string]string{
		"PACT_DIR":      "/var/pacts",
		"BIND_ADDRESS":  "0.0.0.0",
		"PORT":          "8500",
		"TRANSPORT":     "https",
		"TLS_CERT_FILE": "/etc/certs/server.pem",
		"TLS_KEY_FILE":  "/etc/certs/server.key",
		"WRITE_MODE":    "overwrite",
		"LOG_LEVEL":     "5",
		"LOG_SINKS":     "stdout;file /var/log/forge.log",
	})

	assert.Equal(t, "/var/pacts", config.PactDir)
	assert.Equal(t, "0.0.0.0", config.BindAddress)
	assert.Equal(t, 8500, config.Port)
	assert.Equal(t, "https", config.Transport)
	assert.Equal(t, "/etc/certs/server.pem", config.TLSCertFile)
	assert.Equal(t, "/etc/certs/server.key", config.TLSKeyFile)
	assert.Equal(t, "overwrite", config.WriteMode)
	assert.Equal(t, 5, config.LogLevel)
	assert.Equal(t, []string{"stdout", "file /var/log/forge.log"}, config.LogSinks)
}

func Test_NewFromEnv(t *testing.T) {
	t.Setenv("PACT_DIR", "/tmp/forge-pacts")
	t.Setenv("WRITE_MODE", "overwrite")

	config, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/forge-pacts", config.PactDir)
	assert.Equal(t, "overwrite", config.WriteMode)
}

func Test_NewFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process env config")
}
