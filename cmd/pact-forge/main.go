package main

import (
	"context"

	"github.com/form3tech-oss/pact-forge/internal/app/configuration"
	"github.com/form3tech-oss/pact-forge/pkg/workflow"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := configuration.NewFromEnv()
	if err != nil {
		log.Fatalf("unable to load configuration: %v", err)
	}
	if err := configuration.InitLogging(cfg.LogLevel, cfg.LogSinks); err != nil {
		log.Fatalf("unable to configure logging: %v", err)
	}
	mode, err := workflow.ParseWriteMode(cfg.WriteMode)
	if err != nil {
		log.Fatalf("unable to parse write mode: %v", err)
	}

	shared := workflow.Config{
		BindAddress: cfg.BindAddress,
		Port:        cfg.Port,
		Transport:   cfg.Transport,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		PactDir:     cfg.PactDir,
		WriteMode:   mode,
	}

	ctx := context.Background()
	runHTTPExample(ctx, shared)
	runMessageExample(ctx, shared)
}

func runHTTPExample(ctx context.Context, cfg workflow.Config) {
	cfg.Consumer = "merge-test-consumer"
	cfg.Provider = "merge-test-provider-http"

	result, err := workflow.RunHTTP(ctx, cfg, workflow.HTTPInteraction{
		Description:    "a request for an order with an unknown ID",
		Method:         "GET",
		Path:           "/api/orders/404",
		Headers:        map[string]string{"Accept": "application/json"},
		ResponseStatus: 404,
	})
	if err != nil {
		log.Fatalf("http workflow failed: %v", err)
	}
	if !result.Matched {
		log.Warn("http workflow verification failed, pact not written")
		return
	}
	log.WithFields(log.Fields{
		"pact": result.PactPath,
		"port": result.Port,
	}).Info("http workflow complete")
}

func runMessageExample(ctx context.Context, cfg workflow.Config) {
	cfg.Consumer = "merge-test-consumer"
	cfg.Provider = "merge-test-provider-message"

	result, err := workflow.RunMessage(ctx, cfg, workflow.MessageSpec{
		Description: "an event indicating that an order has been created",
		ContentType: "application/json",
		Contents:    []byte(`{"id": {"pact:matcher:type": "integer", "value": "1"}}`),
	})
	if err != nil {
		log.Fatalf("message workflow failed: %v", err)
	}
	for _, payload := range result.Reified {
		log.Infof("reified message: %s", string(payload))
	}
	log.WithField("pact", result.PactPath).Info("message workflow complete")
}
