package pactforge

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Message is a single asynchronous message expectation belonging to a Pact.
// Contents are attached once with WithContents; matcher annotations in JSON
// contents are resolved the same way as for HTTP bodies.
type Message struct {
	Description string

	states      []string
	contentType string
	contents    []byte
	rules       map[string]MatchRule
	metadata    map[string]string
	hasContents bool
	err         error
}

func (m *Message) recordErr(err error) {
	if m.err == nil {
		m.err = err
	}
}

// Given records a provider state the message depends on.
func (m *Message) Given(state string) *Message {
	if strings.TrimSpace(state) == "" {
		m.recordErr(errors.New("provider state must not be empty"))
		return m
	}
	m.states = append(m.states, state)
	return m
}

// WithMetadata attaches a metadata entry to the message. The contentType
// entry is managed by WithContents and cannot be overridden here.
func (m *Message) WithMetadata(key, value string) *Message {
	if strings.TrimSpace(key) == "" {
		m.recordErr(errors.New("metadata key must not be empty"))
		return m
	}
	if key == "contentType" {
		m.recordErr(errors.New("metadata key contentType is reserved"))
		return m
	}
	if m.metadata == nil {
		m.metadata = map[string]string{}
	}
	m.metadata[key] = value
	return m
}

// WithContents attaches the message payload. The declared length must equal
// the actual payload length; any disagreement is rejected rather than
// silently truncating or over-reading the payload. An empty content type
// defaults to text/plain.
func (m *Message) WithContents(contentType string, contents []byte, declaredLen int) error {
	if declaredLen != len(contents) {
		err := errors.Errorf("declared content length %d does not match %d bytes of content", declaredLen, len(contents))
		m.recordErr(err)
		return err
	}
	if contentType == "" {
		contentType = mediaTypeText
	}

	if isJSONMediaType(contentType) {
		resolved, rules, err := processBodyTemplate(contents)
		if err != nil {
			err = errors.Wrap(err, "unable to parse message contents")
			m.recordErr(err)
			return err
		}
		m.contents = resolved
		m.rules = rules
	} else {
		m.contents = append([]byte(nil), contents...)
	}
	m.contentType = contentType
	m.hasContents = true
	return nil
}

// Reify returns the message payload with all matcher annotations replaced by
// their example values. A message without contents reifies to JSON null.
func (m *Message) Reify() (json.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !m.hasContents {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(m.contents), nil
}

// metadataWithContentType merges the contentType entry into the user
// metadata for serialization.
func (m *Message) metadataWithContentType() map[string]string {
	if !m.hasContents && len(m.metadata) == 0 {
		return nil
	}
	merged := make(map[string]string, len(m.metadata)+1)
	for k, v := range m.metadata {
		merged[k] = v
	}
	if m.hasContents {
		merged["contentType"] = m.contentType
	}
	return merged
}
