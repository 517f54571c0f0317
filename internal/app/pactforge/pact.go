package pactforge

import (
	"strings"

	"github.com/pkg/errors"
)

// Version is recorded in the metadata block of every written pact file.
const Version = "0.1.0"

// SpecVersion identifies a version of the pact specification. The ordinal
// values are part of the public contract: callers configure the version
// numerically (e.g. 5 for V4) and the values must stay stable.
type SpecVersion int

const (
	SpecUnknown SpecVersion = iota
	SpecV1
	SpecV1_1
	SpecV2
	SpecV3
	SpecV4
)

func (v SpecVersion) String() string {
	switch v {
	case SpecV1:
		return "1.0.0"
	case SpecV1_1:
		return "1.1.0"
	case SpecV2:
		return "2.0.0"
	case SpecV3:
		return "3.0.0"
	case SpecV4:
		return "4.0"
	}
	return "unknown"
}

// Pact models a consumer/provider contract under construction. Interactions
// and messages are registered through the builder methods and serialized by
// WritePactFile or MockServer.WritePact. A Pact is not safe for concurrent
// mutation; register everything before starting a mock server.
type Pact struct {
	Consumer string
	Provider string

	spec         SpecVersion
	interactions []*Interaction
	messages     []*Message
}

// NewPact validates both participant names. Names become part of the pact
// file name, so path separators are rejected outright.
func NewPact(consumer, provider string) (*Pact, error) {
	consumer = strings.TrimSpace(consumer)
	provider = strings.TrimSpace(provider)
	if consumer == "" {
		return nil, errors.New("consumer name must not be empty")
	}
	if provider == "" {
		return nil, errors.New("provider name must not be empty")
	}
	for _, name := range []string{consumer, provider} {
		if strings.ContainsAny(name, `/\`) {
			return nil, errors.Errorf("participant name %q must not contain path separators", name)
		}
	}
	return &Pact{
		Consumer: consumer,
		Provider: provider,
		spec:     SpecV3,
	}, nil
}

// WithSpecification selects the pact specification version used when the
// contract is serialized. The default is V3.
func (p *Pact) WithSpecification(version SpecVersion) error {
	if version < SpecV1 || version > SpecV4 {
		return errors.Errorf("unknown pact specification version %d", int(version))
	}
	p.spec = version
	return nil
}

func (p *Pact) Specification() SpecVersion {
	return p.spec
}

// AddInteraction registers a new HTTP interaction and returns it for
// further building. Builder errors are collected on the interaction and
// surface when a mock server is started or the pact is written.
func (p *Pact) AddInteraction(description string) *Interaction {
	i := &Interaction{
		Description: description,
		Method:      "GET",
		pathMatcher: &stringPathMatcher{val: "/"},
		path:        "/",
		request:     newHTTPPart(),
		response:    newHTTPPart(),
		status:      200,
	}
	if strings.TrimSpace(description) == "" {
		i.recordErr(errors.New("interaction description must not be empty"))
	}
	p.interactions = append(p.interactions, i)
	return i
}

// AddMessage registers a new asynchronous message and returns it for
// further building.
func (p *Pact) AddMessage(description string) *Message {
	m := &Message{Description: description}
	if strings.TrimSpace(description) == "" {
		m.recordErr(errors.New("message description must not be empty"))
	}
	p.messages = append(p.messages, m)
	return m
}

func (p *Pact) Interactions() []*Interaction {
	out := make([]*Interaction, len(p.interactions))
	copy(out, p.interactions)
	return out
}

func (p *Pact) Messages() []*Message {
	out := make([]*Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// buildErr reports the first error recorded by any builder method, wrapped
// with the interaction it belongs to. Start and write operations refuse to
// act on a pact that failed to build.
func (p *Pact) buildErr() error {
	for _, i := range p.interactions {
		if i.err != nil {
			return errors.Wrapf(i.err, "interaction %q", i.Description)
		}
	}
	for _, m := range p.messages {
		if m.err != nil {
			return errors.Wrapf(m.err, "message %q", m.Description)
		}
	}
	return nil
}
