package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/form3tech-oss/pact-forge/internal/app/pactforge"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// HTTPInteraction describes one request/response pair of an HTTP contract.
// Body templates may carry matcher annotations; the workflow replays the
// resolved body, with annotations replaced by their example values.
type HTTPInteraction struct {
	Description   string
	ProviderState string
	Method        string // default GET
	Path          string // default /
	PathRegex     string // optional, matches the path by regex instead of equality
	Headers       map[string]string
	Query         map[string]string
	Body          json.RawMessage

	ResponseStatus  int // default 200
	ResponseHeaders map[string]string
	ResponseBody    json.RawMessage
}

// HTTPResult reports the outcome of an HTTP workflow. Statuses holds the
// response status per interaction in registration order, 0 where the request
// never completed. PactPath is empty unless verification succeeded.
type HTTPResult struct {
	Port       int
	BaseURL    string
	Statuses   []int
	Matched    bool
	Mismatches []Mismatch
	PactPath   string
}

// RunHTTP executes a complete HTTP contract session: it registers the
// interactions, starts a mock server, replays each interaction's request,
// verifies that traffic covered every interaction exactly once and, on
// success, writes the pact file. Verification failure is reported through
// the result, not as an error; errors are reserved for setup and write
// failures.
func RunHTTP(ctx context.Context, cfg Config, interactions ...HTTPInteraction) (*HTTPResult, error) {
	if len(interactions) == 0 {
		return nil, errors.New("at least one interaction is required")
	}

	pact, err := pactforge.NewPact(cfg.Consumer, cfg.Provider)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create pact")
	}
	if err := pact.WithSpecification(cfg.specification()); err != nil {
		return nil, err
	}

	registered := make([]*pactforge.Interaction, len(interactions))
	for idx, spec := range interactions {
		interaction, err := registerInteraction(pact, spec)
		if err != nil {
			return nil, err
		}
		registered[idx] = interaction
	}

	ms, err := pactforge.StartMockServer(pact, pactforge.MockServerConfig{
		Host:          cfg.BindAddress,
		Port:          cfg.Port,
		Transport:     cfg.Transport,
		TLSCertFile:   cfg.TLSCertFile,
		TLSKeyFile:    cfg.TLSKeyFile,
		CORSPreflight: cfg.CORSPreflight,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ms.Close(); err != nil {
			log.Warnf("unable to close mock server: %v", err)
		}
	}()

	if err := waitReady(ctx, ms.URL()); err != nil {
		return nil, err
	}

	result := &HTTPResult{
		Port:     ms.Port(),
		BaseURL:  ms.URL(),
		Statuses: make([]int, len(interactions)),
	}

	client := cfg.client()
	for idx, spec := range interactions {
		status, err := send(ctx, client, ms.URL(), spec, registered[idx].RequestBody())
		if err != nil {
			log.Warnf("request for interaction '%s' failed: %v", spec.Description, err)
			continue
		}
		result.Statuses[idx] = status
	}

	result.Matched = ms.Matched()
	result.Mismatches = toMismatches(ms.Mismatches())

	if !result.Matched {
		for _, mismatch := range result.Mismatches {
			log.WithFields(log.Fields{
				"kind":        mismatch.Kind,
				"interaction": mismatch.Interaction,
			}).Warnf("verification failed for '%s'", mismatch.Request)
			for _, detail := range mismatch.Details {
				log.Warn(detail)
			}
		}
		return result, nil
	}

	path, err := ms.WritePact(cfg.pactDir(), pactforge.WriteMode(cfg.WriteMode))
	if err != nil {
		return result, errors.Wrap(err, "unable to write pact file")
	}
	result.PactPath = path
	log.Infof("pact written to %s", path)
	return result, nil
}

func registerInteraction(pact *pactforge.Pact, spec HTTPInteraction) (*pactforge.Interaction, error) {
	if strings.TrimSpace(spec.Description) == "" {
		return nil, errors.New("interaction description must not be empty")
	}
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	path := spec.Path
	if path == "" {
		path = "/"
	}

	interaction := pact.AddInteraction(spec.Description).WithRequest(method, path)
	if spec.ProviderState != "" {
		interaction.Given(spec.ProviderState)
	}
	if spec.PathRegex != "" {
		interaction.WithPathRule(spec.PathRegex, path)
	}
	for name, value := range spec.Headers {
		interaction.WithHeader(name, 0, value)
	}
	for name, value := range spec.Query {
		interaction.WithQuery(name, 0, value)
	}
	if len(spec.Body) > 0 {
		interaction.WithJSONBody(spec.Body)
	}

	status := spec.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	interaction.WillRespondWith(status)
	for name, value := range spec.ResponseHeaders {
		interaction.WithResponseHeader(name, 0, value)
	}
	if len(spec.ResponseBody) > 0 {
		interaction.WithResponseJSONBody(spec.ResponseBody)
	}
	return interaction, nil
}

// waitReady blocks until the mock server accepts TCP connections. Readiness
// is probed at the connection level; an HTTP probe would be recorded as an
// unexpected request and poison verification.
func waitReady(ctx context.Context, baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return errors.Wrap(err, "unable to parse mock server url")
	}
	err = retry.Do(
		func() error {
			dialer := net.Dialer{Timeout: time.Second}
			conn, err := dialer.DialContext(ctx, "tcp", u.Host)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		retry.Attempts(10),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
	)
	return errors.Wrap(err, "mock server not ready")
}

func send(ctx context.Context, client *http.Client, baseURL string, spec HTTPInteraction, body []byte) (int, error) {
	path := spec.Path
	if path == "" {
		path = "/"
	}
	target := strings.TrimSuffix(baseURL, "/") + path
	if len(spec.Query) > 0 {
		values := url.Values{}
		for name, value := range spec.Query {
			values.Set(name, value)
		}
		target += "?" + values.Encode()
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, errors.Wrap(err, "unable to build request")
	}
	for name, value := range spec.Headers {
		req.Header.Set(name, value)
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		log.Warn(err)
	}
	return res.StatusCode, nil
}
