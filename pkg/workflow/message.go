package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/form3tech-oss/pact-forge/internal/app/pactforge"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MessageSpec describes one asynchronous message of a message contract.
// Contents may carry matcher annotations when the content type is JSON.
type MessageSpec struct {
	Description   string
	ProviderState string
	ContentType   string // default application/json
	Contents      []byte
	ContentLength int // 0 means len(Contents); any other disagreement is rejected
	Metadata      map[string]string
}

// MessageResult reports the outcome of a message workflow. Reified holds the
// resolved payload per message in registration order.
type MessageResult struct {
	Reified  []json.RawMessage
	PactPath string
}

// RunMessage executes a complete message contract session: it registers the
// messages, reifies each payload and writes the pact file. There is no
// verification step for messages, so every failure is a setup or write
// error.
func RunMessage(ctx context.Context, cfg Config, specs ...MessageSpec) (*MessageResult, error) {
	if len(specs) == 0 {
		return nil, errors.New("at least one message is required")
	}

	pact, err := pactforge.NewPact(cfg.Consumer, cfg.Provider)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create pact")
	}
	if err := pact.WithSpecification(cfg.specification()); err != nil {
		return nil, err
	}

	result := &MessageResult{Reified: make([]json.RawMessage, 0, len(specs))}
	for _, spec := range specs {
		if strings.TrimSpace(spec.Description) == "" {
			return nil, errors.New("message description must not be empty")
		}
		message := pact.AddMessage(spec.Description)
		if spec.ProviderState != "" {
			message.Given(spec.ProviderState)
		}
		for key, value := range spec.Metadata {
			message.WithMetadata(key, value)
		}

		contentType := spec.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		length := spec.ContentLength
		if length == 0 {
			length = len(spec.Contents)
		}
		if err := message.WithContents(contentType, spec.Contents, length); err != nil {
			return nil, errors.Wrapf(err, "unable to attach contents to message '%s'", spec.Description)
		}

		reified, err := message.Reify()
		if err != nil {
			return nil, errors.Wrapf(err, "unable to reify message '%s'", spec.Description)
		}
		log.Debugf("message '%s' reified to %s", spec.Description, string(reified))
		result.Reified = append(result.Reified, reified)
	}

	path, err := pactforge.WritePactFile(pact, cfg.pactDir(), pactforge.WriteMode(cfg.WriteMode))
	if err != nil {
		return nil, errors.Wrap(err, "unable to write pact file")
	}
	result.PactPath = path
	log.Infof("pact written to %s", path)
	return result, nil
}
