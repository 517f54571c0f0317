package pactforge

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/form3tech-oss/pact-forge/internal/app/httpresponse"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Transports supported by the mock server.
const (
	TransportHTTP  = "http"
	TransportHTTPS = "https"
)

// MockServerConfig controls where and how a mock server listens. The zero
// value binds an ephemeral port on 127.0.0.1 over plain HTTP.
type MockServerConfig struct {
	Host          string
	Port          int
	Transport     string
	TLSCertFile   string
	TLSKeyFile    string
	CORSPreflight bool
}

// MockServer replays the HTTP interactions of a pact and records how well
// incoming traffic matched them. The interaction set is snapshotted at start;
// registering further interactions on the pact has no effect on a running
// server.
type MockServer struct {
	pact         *Pact
	interactions []*Interaction
	server       *http.Server
	host         string
	transport    string
	port         int

	mu         sync.Mutex
	counts     map[*Interaction]int
	mismatches []Mismatch
	closed     bool
}

// StartMockServer binds a listener and serves the pact's interactions until
// Close. Port 0 selects an ephemeral port; the bound port is available via
// Port and URL.
func StartMockServer(pact *Pact, config MockServerConfig) (*MockServer, error) {
	if err := pact.buildErr(); err != nil {
		return nil, errors.Wrap(err, "unable to start mock server")
	}

	transport := config.Transport
	if transport == "" {
		transport = TransportHTTP
	}
	if transport != TransportHTTP && transport != TransportHTTPS {
		return nil, errors.Errorf("unsupported transport %q", config.Transport)
	}
	if transport == TransportHTTPS && (config.TLSCertFile == "" || config.TLSKeyFile == "") {
		return nil, errors.New("cannot serve https without TLS cert and key")
	}

	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(config.Port)))
	if err != nil {
		return nil, errors.Wrap(err, "unable to bind mock server")
	}

	ms := &MockServer{
		pact:         pact,
		interactions: pact.Interactions(),
		host:         host,
		transport:    transport,
		port:         l.Addr().(*net.TCPAddr).Port,
		counts:       map[*Interaction]int{},
	}

	e := echo.New()
	e.HideBanner = true
	if config.CORSPreflight {
		e.Use(middleware.CORS())
	}
	e.Any("/", ms.handle)
	e.Any("/*", ms.handle)

	ms.server = &http.Server{Handler: e}

	go func() {
		var err error
		if transport == TransportHTTPS {
			err = ms.server.ServeTLS(l, config.TLSCertFile, config.TLSKeyFile)
		} else {
			err = ms.server.Serve(l)
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	log.Infof("mock server for consumer '%s' and provider '%s' listening on %s",
		pact.Consumer, pact.Provider, ms.URL())
	return ms, nil
}

// URL returns the base URL clients should send requests to. An unspecified
// bind host is reported as 127.0.0.1 so the URL is always dialable.
func (ms *MockServer) URL() string {
	host := ms.host
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s://%s", ms.transport, net.JoinHostPort(host, strconv.Itoa(ms.port)))
}

func (ms *MockServer) Port() int {
	return ms.port
}

func (ms *MockServer) handle(c echo.Context) error {
	req := c.Request()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusInternalServerError,
			httpresponse.Errorf("unable to read request body. %s", err.Error()))
	}
	summary := fmt.Sprintf("%s %s", req.Method, req.URL.Path)

	candidates := make([]*Interaction, 0, len(ms.interactions))
	for _, interaction := range ms.interactions {
		if interaction.Match(req.URL.Path, req.Method) {
			candidates = append(candidates, interaction)
		}
	}
	if len(candidates) == 0 {
		ms.record(Mismatch{Kind: matchKeyUnexpected, Request: summary})
		return c.JSON(http.StatusInternalServerError,
			httpresponse.Errorf("%s : %s", matchKeyUnexpected, summary))
	}

	doc := parseRequest(req, data)
	unmatched := make(map[string][]string, len(candidates))
	for _, interaction := range candidates {
		ok, violations := interaction.checkRequest(doc, req.Header, req.URL.Query())
		if ok {
			ms.recordMatch(interaction)
			log.Infof("request '%s' matched interaction '%s'", summary, interaction.Description)
			return ms.respond(c, interaction)
		}
		unmatched[interaction.Description] = violations
	}

	details := make([]string, 0)
	for desc, violations := range unmatched {
		log.Infof("request does not match interaction '%s'.\n\n%s", desc, strings.Join(violations, "\n"))
		details = append(details, violations...)
	}
	sort.Strings(details)

	mismatch := Mismatch{Kind: matchKeyMismatch, Request: summary, Details: details}
	if len(candidates) == 1 {
		mismatch.Interaction = candidates[0].Description
	}
	ms.record(mismatch)
	return c.JSON(http.StatusInternalServerError,
		httpresponse.Errorf("%s : %s", matchKeyMismatch, summary).WithDetails(details))
}

func (ms *MockServer) respond(c echo.Context, interaction *Interaction) error {
	header := c.Response().Header()
	for name, values := range interaction.response.headers {
		for _, v := range values {
			if v != "" {
				header.Add(name, v)
			}
		}
	}
	if !interaction.response.hasBody {
		return c.NoContent(interaction.status)
	}
	return c.Blob(interaction.status, interaction.response.contentType, interaction.response.body)
}

func (ms *MockServer) record(m Mismatch) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.mismatches = append(ms.mismatches, m)
}

func (ms *MockServer) recordMatch(interaction *Interaction) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.counts[interaction]++
}

// Matched reports whether every interaction was matched exactly once and no
// request mismatched or went unexpected.
func (ms *MockServer) Matched() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.mismatches) > 0 {
		return false
	}
	for _, interaction := range ms.interactions {
		if ms.counts[interaction] != 1 {
			return false
		}
	}
	return true
}

// Mismatches returns every verification failure recorded so far, including a
// record for each interaction that received no request or more than one.
func (ms *MockServer) Mismatches() []Mismatch {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := append([]Mismatch(nil), ms.mismatches...)
	for _, interaction := range ms.interactions {
		summary := fmt.Sprintf("%s %s", interaction.Method, interaction.path)
		switch n := ms.counts[interaction]; {
		case n == 0:
			out = append(out, Mismatch{
				Kind:        matchKeyMissing,
				Interaction: interaction.Description,
				Request:     summary,
			})
		case n > 1:
			out = append(out, Mismatch{
				Kind:        matchKeyDuplicate,
				Interaction: interaction.Description,
				Request:     summary,
				Details:     []string{fmt.Sprintf("interaction was matched %d times", n)},
			})
		}
	}
	return out
}

// WritePact serializes the pact backing this mock server. Callers decide
// whether to gate the write on Matched; writing an unverified pact is
// allowed.
func (ms *MockServer) WritePact(dir string, mode WriteMode) (string, error) {
	return WritePactFile(ms.pact, dir, mode)
}

// Close shuts the mock server down and frees its port. Closing more than
// once is a no-op.
func (ms *MockServer) Close() error {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return nil
	}
	ms.closed = true
	ms.mu.Unlock()
	return ms.server.Close()
}
