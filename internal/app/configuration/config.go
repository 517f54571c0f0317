package configuration

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

// Config carries the environment-driven settings of the pact-forge runner.
type Config struct {
	PactDir     string   `env:"PACT_DIR,default=./pacts"`             // Directory pact files are written to
	BindAddress string   `env:"BIND_ADDRESS,default=127.0.0.1"`       // Host the mock server binds to
	Port        int      `env:"PORT,default=0"`                       // Mock server port, 0 picks an ephemeral port
	Transport   string   `env:"TRANSPORT,default=http"`               // http or https
	TLSCertFile string   `env:"TLS_CERT_FILE"`                        // Certificate for the https transport
	TLSKeyFile  string   `env:"TLS_KEY_FILE"`                         // Key for the https transport
	WriteMode   string   `env:"WRITE_MODE,default=merge"`             // merge or overwrite
	LogLevel    int      `env:"LOG_LEVEL,default=3"`                  // 0=off, 1=error, 2=warn, 3=info, 4=debug, 5=trace
	LogSinks    []string `env:"LOG_SINKS,delimiter=;,default=stdout"` // stdout, stderr, buffer or "file <path>", e.g. stdout;file /tmp/forge.log
}

func NewFromEnv() (Config, error) {
	ctx := context.Background()

	var config Config
	err := envconfig.Process(ctx, &config)
	if err != nil {
		return config, errors.Wrap(err, "process env config")
	}
	return config, nil
}
