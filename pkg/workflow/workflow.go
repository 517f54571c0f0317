// Package workflow drives complete consumer-side pact sessions: it stands up
// mock servers for HTTP contracts, replays the consumer's requests against
// them, verifies the outcome and writes the resulting pact files. Message
// contracts skip the server and go straight from reification to the file.
package workflow

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/form3tech-oss/pact-forge/internal/app/pactforge"
)

// SpecVersion selects the pact specification version a workflow serializes.
// Values follow the pact numbering, so V4 is 5.
type SpecVersion int

const (
	SpecV2 = SpecVersion(pactforge.SpecV2)
	SpecV3 = SpecVersion(pactforge.SpecV3)
	SpecV4 = SpecVersion(pactforge.SpecV4)
)

// WriteMode selects how pact files are written at the end of a workflow.
type WriteMode int

const (
	WriteModeMerge     = WriteMode(pactforge.WriteModeMerge)
	WriteModeOverwrite = WriteMode(pactforge.WriteModeOverwrite)
)

// ParseWriteMode maps the textual configuration values "merge" and
// "overwrite" onto a WriteMode.
func ParseWriteMode(s string) (WriteMode, error) {
	mode, err := pactforge.ParseWriteMode(s)
	return WriteMode(mode), err
}

// Config carries the session-level settings shared by every workflow.
// The zero value runs a V4 merge session against an ephemeral port on
// 127.0.0.1 and writes pacts to ./pacts.
type Config struct {
	Consumer      string
	Provider      string
	Specification SpecVersion // zero selects V4
	BindAddress   string      // mock server bind host, default 127.0.0.1
	Port          int         // mock server port, 0 picks an ephemeral port
	Transport     string      // http (default) or https
	TLSCertFile   string
	TLSKeyFile    string
	CORSPreflight bool
	PactDir       string // default ./pacts
	WriteMode     WriteMode
	Client        *http.Client // client used to replay requests, defaulted when nil
}

func (c Config) specification() pactforge.SpecVersion {
	if c.Specification == 0 {
		return pactforge.SpecV4
	}
	return pactforge.SpecVersion(c.Specification)
}

func (c Config) pactDir() string {
	if c.PactDir == "" {
		return "./pacts"
	}
	return c.PactDir
}

func (c Config) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	client := &http.Client{Timeout: 30 * time.Second}
	if c.Transport == pactforge.TransportHTTPS {
		// Mock server certificates are typically self-signed.
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// Mismatch mirrors the mock server's verification failures for callers.
type Mismatch struct {
	Kind        string
	Interaction string
	Request     string
	Details     []string
}

func toMismatches(in []pactforge.Mismatch) []Mismatch {
	out := make([]Mismatch, len(in))
	for idx, m := range in {
		out[idx] = Mismatch{
			Kind:        m.Kind,
			Interaction: m.Interaction,
			Request:     m.Request,
			Details:     m.Details,
		}
	}
	return out
}
