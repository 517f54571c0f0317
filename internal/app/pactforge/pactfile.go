package pactforge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// WriteMode selects how WritePactFile treats an existing pact file.
type WriteMode int

const (
	// WriteModeMerge folds the pact into an existing file, replacing entries
	// with the same description and provider states and keeping the rest.
	WriteModeMerge WriteMode = iota
	// WriteModeOverwrite replaces the file wholesale.
	WriteModeOverwrite
)

func (m WriteMode) String() string {
	switch m {
	case WriteModeMerge:
		return "merge"
	case WriteModeOverwrite:
		return "overwrite"
	}
	return "unknown"
}

func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merge":
		return WriteModeMerge, nil
	case "overwrite":
		return WriteModeOverwrite, nil
	}
	return WriteModeMerge, errors.Errorf("unknown write mode %q", s)
}

type pacticipant struct {
	Name string `json:"name"`
}

type providerState struct {
	Name string `json:"name"`
}

type specificationMeta struct {
	Version string `json:"version"`
}

type forgeMeta struct {
	Version string `json:"version"`
}

type pactMetadata struct {
	PactSpecification specificationMeta `json:"pactSpecification"`
	PactForge         forgeMeta         `json:"pactForge"`
}

type pactDocument struct {
	Consumer     pacticipant       `json:"consumer"`
	Provider     pacticipant       `json:"provider"`
	Interactions []json.RawMessage `json:"interactions,omitempty"`
	Messages     []json.RawMessage `json:"messages,omitempty"`
	Metadata     pactMetadata      `json:"metadata"`
}

type ruleSet struct {
	Combine  string      `json:"combine,omitempty"`
	Matchers []MatchRule `json:"matchers"`
}

type matchingRules struct {
	Path *ruleSet           `json:"path,omitempty"`
	Body map[string]ruleSet `json:"body,omitempty"`
}

type v4Body struct {
	Content     json.RawMessage `json:"content"`
	ContentType string          `json:"contentType"`
	Encoded     bool            `json:"encoded"`
}

type v4Request struct {
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	Query         map[string][]string `json:"query,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          *v4Body             `json:"body,omitempty"`
	MatchingRules *matchingRules      `json:"matchingRules,omitempty"`
}

type v4Response struct {
	Status        int                 `json:"status"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          *v4Body             `json:"body,omitempty"`
	MatchingRules *matchingRules      `json:"matchingRules,omitempty"`
}

type v4Interaction struct {
	Type           string            `json:"type"`
	Description    string            `json:"description"`
	ProviderStates []providerState   `json:"providerStates,omitempty"`
	Pending        bool              `json:"pending"`
	Request        *v4Request        `json:"request,omitempty"`
	Response       *v4Response       `json:"response,omitempty"`
	Contents       *v4Body           `json:"contents,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MatchingRules  *matchingRules    `json:"matchingRules,omitempty"`
}

type v3Request struct {
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	Query         map[string][]string `json:"query,omitempty"`
	Headers       map[string]string   `json:"headers,omitempty"`
	Body          json.RawMessage     `json:"body,omitempty"`
	MatchingRules *matchingRules      `json:"matchingRules,omitempty"`
}

type v3Response struct {
	Status        int               `json:"status"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          json.RawMessage   `json:"body,omitempty"`
	MatchingRules *matchingRules    `json:"matchingRules,omitempty"`
}

type v3Interaction struct {
	Description    string          `json:"description"`
	ProviderStates []providerState `json:"providerStates,omitempty"`
	Request        *v3Request      `json:"request"`
	Response       *v3Response     `json:"response"`
}

type v3Message struct {
	Description    string            `json:"description"`
	ProviderStates []providerState   `json:"providerStates,omitempty"`
	Contents       json.RawMessage   `json:"contents,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MatchingRules  *matchingRules    `json:"matchingRules,omitempty"`
}

// entryKey identifies a pact file entry for merging: two entries with the
// same description and provider states are the same interaction.
type entryKey struct {
	description string
	states      string
}

type pactEntry struct {
	key  entryKey
	data json.RawMessage
}

func newEntryKey(states []string, description string) entryKey {
	return entryKey{description: description, states: strings.Join(states, "\x1f")}
}

// WritePactFile serializes the pact to <dir>/<consumer>-<provider>.json,
// creating the directory as needed. Only V3 and V4 pacts can be written; a
// V3 pact cannot mix HTTP interactions and messages.
func WritePactFile(pact *Pact, dir string, mode WriteMode) (string, error) {
	if err := pact.buildErr(); err != nil {
		return "", errors.Wrap(err, "unable to write pact")
	}
	if mode != WriteModeMerge && mode != WriteModeOverwrite {
		return "", errors.Errorf("unknown write mode %d", int(mode))
	}

	entries, container, err := buildEntries(pact)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "unable to create pact directory")
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", pact.Consumer, pact.Provider))

	if mode == WriteModeMerge {
		existing, err := os.ReadFile(path)
		switch {
		case err == nil:
			entries, err = mergeEntries(pact, existing, container, entries)
			if err != nil {
				return "", errors.Wrapf(err, "unable to merge pact file %s", path)
			}
		case !os.IsNotExist(err):
			return "", errors.Wrap(err, "unable to read existing pact file")
		}
	}

	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].key.description != entries[b].key.description {
			return entries[a].key.description < entries[b].key.description
		}
		return entries[a].key.states < entries[b].key.states
	})

	doc := pactDocument{
		Consumer: pacticipant{Name: pact.Consumer},
		Provider: pacticipant{Name: pact.Provider},
		Metadata: pactMetadata{
			PactSpecification: specificationMeta{Version: pact.spec.String()},
			PactForge:         forgeMeta{Version: Version},
		},
	}
	raw := make([]json.RawMessage, len(entries))
	for idx, entry := range entries {
		raw[idx] = entry.data
	}
	if container == "messages" {
		doc.Messages = raw
	} else {
		doc.Interactions = raw
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "unable to serialize pact")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "unable to write pact file")
	}
	return path, nil
}

func buildEntries(pact *Pact) ([]pactEntry, string, error) {
	switch pact.spec {
	case SpecV3:
		if len(pact.interactions) > 0 && len(pact.messages) > 0 {
			return nil, "", errors.New("a V3 pact cannot mix HTTP interactions and messages")
		}
	case SpecV4:
	default:
		return nil, "", errors.Errorf("pact specification %s is not supported for serialization", pact.spec)
	}

	container := "interactions"
	if pact.spec == SpecV3 && len(pact.messages) > 0 {
		container = "messages"
	}

	entries := make([]pactEntry, 0, len(pact.interactions)+len(pact.messages))
	for _, interaction := range pact.interactions {
		data, err := marshalInteraction(pact.spec, interaction)
		if err != nil {
			return nil, "", errors.Wrapf(err, "unable to serialize interaction %q", interaction.Description)
		}
		entries = append(entries, pactEntry{key: newEntryKey(interaction.states, interaction.Description), data: data})
	}
	for _, message := range pact.messages {
		data, err := marshalMessage(pact.spec, message)
		if err != nil {
			return nil, "", errors.Wrapf(err, "unable to serialize message %q", message.Description)
		}
		entries = append(entries, pactEntry{key: newEntryKey(message.states, message.Description), data: data})
	}
	return entries, container, nil
}

// mergeEntries folds freshly built entries into the entries of an existing
// pact file. The existing file must pass schema validation and agree on
// participants and specification version; incoming entries win on key
// collisions.
func mergeEntries(pact *Pact, existing []byte, container string, incoming []pactEntry) ([]pactEntry, error) {
	if err := validatePactFile(existing); err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(existing)
	if name := doc.Get("consumer.name").String(); name != pact.Consumer {
		return nil, errors.Errorf("existing file is for consumer %q, not %q", name, pact.Consumer)
	}
	if name := doc.Get("provider.name").String(); name != pact.Provider {
		return nil, errors.Errorf("existing file is for provider %q, not %q", name, pact.Provider)
	}
	if version := doc.Get("metadata.pactSpecification.version").String(); version != pact.spec.String() {
		return nil, errors.Errorf("existing file was written as specification %q, cannot merge as %q",
			version, pact.spec.String())
	}
	other := "messages"
	if container == "messages" {
		other = "interactions"
	}
	if doc.Get(other).Exists() {
		return nil, errors.Errorf("existing file holds %s, cannot merge %s into it", other, container)
	}

	merged := make([]pactEntry, 0)
	index := map[entryKey]int{}
	doc.Get(container).ForEach(func(_, entry gjson.Result) bool {
		key := keyFromEntry(entry)
		merged = append(merged, pactEntry{key: key, data: json.RawMessage(entry.Raw)})
		index[key] = len(merged) - 1
		return true
	})
	for _, entry := range incoming {
		if at, ok := index[entry.key]; ok {
			merged[at] = entry
		} else {
			index[entry.key] = len(merged)
			merged = append(merged, entry)
		}
	}
	return merged, nil
}

func keyFromEntry(entry gjson.Result) entryKey {
	var states []string
	entry.Get("providerStates").ForEach(func(_, state gjson.Result) bool {
		states = append(states, state.Get("name").String())
		return true
	})
	return newEntryKey(states, entry.Get("description").String())
}

func marshalInteraction(spec SpecVersion, i *Interaction) (json.RawMessage, error) {
	if spec == SpecV4 {
		return json.Marshal(v4Interaction{
			Type:           "Synchronous/HTTP",
			Description:    i.Description,
			ProviderStates: providerStates(i.states),
			Request: &v4Request{
				Method:        i.Method,
				Path:          i.path,
				Query:         headerValues(i.query),
				Headers:       headerValues(partHeaders(i.request)),
				Body:          v4BodyOf(i.request),
				MatchingRules: buildMatchingRules(i.pathRule, i.request.rules),
			},
			Response: &v4Response{
				Status:        i.status,
				Headers:       headerValues(partHeaders(i.response)),
				Body:          v4BodyOf(i.response),
				MatchingRules: buildMatchingRules(nil, i.response.rules),
			},
		})
	}
	return json.Marshal(v3Interaction{
		Description:    i.Description,
		ProviderStates: providerStates(i.states),
		Request: &v3Request{
			Method:        i.Method,
			Path:          i.path,
			Query:         headerValues(i.query),
			Headers:       joinedHeaderValues(partHeaders(i.request)),
			Body:          rawBodyOf(i.request),
			MatchingRules: buildMatchingRules(i.pathRule, i.request.rules),
		},
		Response: &v3Response{
			Status:        i.status,
			Headers:       joinedHeaderValues(partHeaders(i.response)),
			Body:          rawBodyOf(i.response),
			MatchingRules: buildMatchingRules(nil, i.response.rules),
		},
	})
}

func marshalMessage(spec SpecVersion, m *Message) (json.RawMessage, error) {
	if spec == SpecV4 {
		return json.Marshal(v4Interaction{
			Type:           "Asynchronous/Messages",
			Description:    m.Description,
			ProviderStates: providerStates(m.states),
			Contents:       v4MessageContents(m),
			Metadata:       m.metadataWithContentType(),
			MatchingRules:  buildMatchingRules(nil, m.rules),
		})
	}
	return json.Marshal(v3Message{
		Description:    m.Description,
		ProviderStates: providerStates(m.states),
		Contents:       messageContents(m),
		Metadata:       m.metadataWithContentType(),
		MatchingRules:  buildMatchingRules(nil, m.rules),
	})
}

func providerStates(states []string) []providerState {
	if len(states) == 0 {
		return nil
	}
	out := make([]providerState, len(states))
	for idx, name := range states {
		out[idx] = providerState{Name: name}
	}
	return out
}

// partHeaders returns the part's headers with a Content-Type entry added
// when a body is present and no explicit header was set.
func partHeaders(part *httpPart) map[string][]string {
	if !part.hasBody {
		return part.headers
	}
	for name := range part.headers {
		if strings.EqualFold(name, "Content-Type") {
			return part.headers
		}
	}
	headers := make(map[string][]string, len(part.headers)+1)
	for name, values := range part.headers {
		headers[name] = values
	}
	headers["Content-Type"] = []string{part.contentType}
	return headers
}

// headerValues drops empty placeholder values left by sparse index building.
func headerValues(values map[string][]string) map[string][]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string][]string, len(values))
	for name, vals := range values {
		kept := make([]string, 0, len(vals))
		for _, v := range vals {
			if v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[name] = kept
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func joinedHeaderValues(values map[string][]string) map[string]string {
	kept := headerValues(values)
	if kept == nil {
		return nil
	}
	out := make(map[string]string, len(kept))
	for name, vals := range kept {
		out[name] = strings.Join(vals, ", ")
	}
	return out
}

func v4BodyOf(part *httpPart) *v4Body {
	if !part.hasBody {
		return nil
	}
	return &v4Body{
		Content:     json.RawMessage(part.body),
		ContentType: part.contentType,
		Encoded:     false,
	}
}

func rawBodyOf(part *httpPart) json.RawMessage {
	if !part.hasBody {
		return nil
	}
	return json.RawMessage(part.body)
}

func messageContents(m *Message) json.RawMessage {
	if !m.hasContents {
		return nil
	}
	if isJSONMediaType(m.contentType) {
		return json.RawMessage(m.contents)
	}
	data, err := json.Marshal(string(m.contents))
	if err != nil {
		return nil
	}
	return data
}

func v4MessageContents(m *Message) *v4Body {
	contents := messageContents(m)
	if contents == nil {
		return nil
	}
	return &v4Body{
		Content:     contents,
		ContentType: m.contentType,
		Encoded:     false,
	}
}

func buildMatchingRules(pathRule *MatchRule, bodyRules map[string]MatchRule) *matchingRules {
	if pathRule == nil && len(bodyRules) == 0 {
		return nil
	}
	rules := &matchingRules{}
	if pathRule != nil {
		rules.Path = &ruleSet{Matchers: []MatchRule{*pathRule}}
	}
	if len(bodyRules) > 0 {
		body := make(map[string]ruleSet, len(bodyRules))
		for path, rule := range bodyRules {
			body[path] = ruleSet{Combine: "AND", Matchers: []MatchRule{rule}}
		}
		rules.Body = body
	}
	return rules
}
