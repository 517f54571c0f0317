package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pact-foundation/pact-go/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type WorkflowStage struct {
	t       *testing.T
	assert  *assert.Assertions
	require *require.Assertions

	config       Config
	interactions []HTTPInteraction
	messages     []MessageSpec

	expectedPort  int
	httpResult    *HTTPResult
	messageResult *MessageResult
	runErr        error
}

func NewWorkflowStage(t *testing.T) (*WorkflowStage, *WorkflowStage, *WorkflowStage) {
	s := &WorkflowStage{
		t:       t,
		assert:  assert.New(t),
		require: require.New(t),
		config: Config{
			Consumer: "order-service",
			Provider: "billing-service",
			PactDir:  t.TempDir(),
		},
	}
	return s, s, s
}

func (s *WorkflowStage) and() *WorkflowStage {
	return s
}

func (s *WorkflowStage) a_contract_for_an_unknown_order() *WorkflowStage {
	s.interactions = append(s.interactions, HTTPInteraction{
		Description:    "a request for an order with an unknown ID",
		Method:         "GET",
		Path:           "/api/orders/404",
		Headers:        map[string]string{"Accept": "application/json"},
		ResponseStatus: 404,
		ResponseBody:   []byte(`{"error": "order not found"}`),
	})
	return s
}

func (s *WorkflowStage) a_contract_for_creating_an_order() *WorkflowStage {
	s.interactions = append(s.interactions, HTTPInteraction{
		Description:     "a request to create an order",
		Method:          "POST",
		Path:            "/api/orders",
		Body:            []byte(`{"id": {"pact:matcher:type": "integer", "value": "1"}, "status": "created"}`),
		ResponseStatus:  201,
		ResponseHeaders: map[string]string{"Location": "/api/orders/1"},
		ResponseBody:    []byte(`{"id": 1}`),
	})
	return s
}

func (s *WorkflowStage) a_contract_with_a_path_rule() *WorkflowStage {
	s.interactions = append(s.interactions, HTTPInteraction{
		Description:    "a request for any order",
		Method:         "GET",
		Path:           "/api/orders/42",
		PathRegex:      "/api/orders/[0-9]+",
		ResponseStatus: 200,
		ResponseBody:   []byte(`{"id": 42}`),
	})
	return s
}

func (s *WorkflowStage) a_contract_with_a_query_expectation() *WorkflowStage {
	s.interactions = append(s.interactions, HTTPInteraction{
		Description:    "a request for pending orders",
		Method:         "GET",
		Path:           "/api/orders",
		Query:          map[string]string{"status": "pending"},
		ResponseStatus: 200,
	})
	return s
}

func (s *WorkflowStage) two_contracts_for_the_same_request() *WorkflowStage {
	for _, description := range []string{"the first identical request", "the second identical request"} {
		s.interactions = append(s.interactions, HTTPInteraction{
			Description:    description,
			Method:         "GET",
			Path:           "/api/orders/42",
			ResponseStatus: 200,
		})
	}
	return s
}

func (s *WorkflowStage) only_a_contract_for_creating_an_order() *WorkflowStage {
	s.interactions = nil
	return s.a_contract_for_creating_an_order()
}

func (s *WorkflowStage) the_participants_are(consumer, provider string) *WorkflowStage {
	s.config.Consumer = consumer
	s.config.Provider = provider
	return s
}

func (s *WorkflowStage) an_explicit_mock_server_port() *WorkflowStage {
	port, err := utils.GetFreePort()
	s.require.NoError(err)
	s.config.Port = port
	s.expectedPort = port
	return s
}

func (s *WorkflowStage) a_v3_specification() *WorkflowStage {
	s.config.Specification = SpecV3
	return s
}

func (s *WorkflowStage) an_empty_consumer_name() *WorkflowStage {
	s.config.Consumer = ""
	return s
}

func (s *WorkflowStage) an_unsupported_transport() *WorkflowStage {
	s.config.Transport = "carrier-pigeon"
	return s
}

func (s *WorkflowStage) a_message_describing_an_order_created_event() *WorkflowStage {
	s.messages = append(s.messages, MessageSpec{
		Description:   "an order created event",
		ProviderState: "the billing account exists",
		ContentType:   "application/json",
		Contents:      []byte(`{"id": {"pact:matcher:type": "integer", "value": "1"}}`),
		Metadata:      map[string]string{"queue": "orders"},
	})
	return s
}

func (s *WorkflowStage) a_message_with_a_wrong_declared_length() *WorkflowStage {
	contents := []byte(`{"id": 1}`)
	s.messages = append(s.messages, MessageSpec{
		Description:   "an event with a bad declared length",
		ContentType:   "application/json",
		Contents:      contents,
		ContentLength: len(contents) + 1,
	})
	return s
}

func (s *WorkflowStage) a_plain_text_message() *WorkflowStage {
	s.messages = append(s.messages, MessageSpec{
		Description: "a plain text event",
		ContentType: "text/plain",
		Contents:    []byte("order 42 created"),
	})
	return s
}

func (s *WorkflowStage) the_http_workflow_runs() *WorkflowStage {
	s.httpResult, s.runErr = RunHTTP(context.Background(), s.config, s.interactions...)
	return s
}

func (s *WorkflowStage) the_message_workflow_runs() *WorkflowStage {
	s.messageResult, s.runErr = RunMessage(context.Background(), s.config, s.messages...)
	return s
}

func (s *WorkflowStage) the_workflow_succeeded() *WorkflowStage {
	s.require.NoError(s.runErr)
	s.require.NotNil(s.httpResult)
	s.assert.True(s.httpResult.Matched, "mismatches: %v", s.httpResult.Mismatches)
	return s
}

func (s *WorkflowStage) the_message_workflow_succeeded() *WorkflowStage {
	s.require.NoError(s.runErr)
	s.require.NotNil(s.messageResult)
	return s
}

func (s *WorkflowStage) verification_failed() *WorkflowStage {
	s.require.NoError(s.runErr)
	s.require.NotNil(s.httpResult)
	s.assert.False(s.httpResult.Matched)
	s.assert.Empty(s.httpResult.PactPath)
	return s
}

func (s *WorkflowStage) the_workflow_failed_with(substr string) *WorkflowStage {
	s.require.Error(s.runErr)
	s.assert.Contains(s.runErr.Error(), substr)
	return s
}

func (s *WorkflowStage) the_mismatch_kinds_include(kinds ...string) *WorkflowStage {
	s.require.NotNil(s.httpResult)
	got := make([]string, 0, len(s.httpResult.Mismatches))
	for _, m := range s.httpResult.Mismatches {
		got = append(got, m.Kind)
	}
	for _, kind := range kinds {
		s.assert.Contains(got, kind)
	}
	return s
}

func (s *WorkflowStage) the_response_status_was(idx, status int) *WorkflowStage {
	s.require.NotNil(s.httpResult)
	s.require.Greater(len(s.httpResult.Statuses), idx)
	s.assert.Equal(status, s.httpResult.Statuses[idx])
	return s
}

func (s *WorkflowStage) the_mock_server_port_was_the_configured_one() *WorkflowStage {
	s.require.NotNil(s.httpResult)
	s.assert.Equal(s.expectedPort, s.httpResult.Port)
	return s
}

func (s *WorkflowStage) a_pact_file_was_written() *WorkflowStage {
	s.require.NotEmpty(s.pactPath())
	s.assert.FileExists(s.pactPath())
	return s
}

func (s *WorkflowStage) the_pact_file_is_named(filename string) *WorkflowStage {
	s.require.NotEmpty(s.pactPath())
	s.assert.Equal(filename, filepath.Base(s.pactPath()))
	return s
}

func (s *WorkflowStage) no_pact_file_was_written() *WorkflowStage {
	entries, err := os.ReadDir(s.config.PactDir)
	s.require.NoError(err)
	s.assert.Empty(entries)
	return s
}

func (s *WorkflowStage) the_pact_file_version_is(version string) *WorkflowStage {
	s.assert.Equal(version, s.pactDoc().Get("metadata.pactSpecification.version").String())
	return s
}

func (s *WorkflowStage) the_pact_file_holds_n_interactions(n int) *WorkflowStage {
	s.assert.Equal(int64(n), s.pactDoc().Get("interactions.#").Int())
	return s
}

func (s *WorkflowStage) the_pact_file_records_the_interaction(description string) *WorkflowStage {
	descriptions := make([]string, 0)
	for _, entry := range s.pactDoc().Get("interactions").Array() {
		descriptions = append(descriptions, entry.Get("description").String())
	}
	s.assert.Contains(descriptions, description)
	return s
}

func (s *WorkflowStage) the_pact_file_records_an_integer_matcher_for_the_id() *WorkflowStage {
	match := s.pactDoc().Get(`interactions.0.request.matchingRules.body.$\.id.matchers.0.match`)
	s.assert.Equal("integer", match.String())
	return s
}

func (s *WorkflowStage) the_pact_file_records_the_path_rule() *WorkflowStage {
	rule := s.pactDoc().Get("interactions.0.request.matchingRules.path.matchers.0")
	s.assert.Equal("regex", rule.Get("match").String())
	s.assert.Equal("/api/orders/[0-9]+", rule.Get("regex").String())
	return s
}

func (s *WorkflowStage) the_pact_file_lists_n_messages(n int) *WorkflowStage {
	s.assert.Equal(int64(n), s.pactDoc().Get("messages.#").Int())
	return s
}

func (s *WorkflowStage) the_pact_file_records_the_message_contents() *WorkflowStage {
	message := s.pactDoc().Get("interactions.0")
	s.assert.Equal("Asynchronous/Messages", message.Get("type").String())
	s.assert.Equal(int64(1), message.Get("contents.content.id").Int())
	s.assert.Equal("orders", message.Get("metadata.queue").String())
	return s
}

func (s *WorkflowStage) the_reified_payload_was(idx int, want string) *WorkflowStage {
	s.require.NotNil(s.messageResult)
	s.require.Greater(len(s.messageResult.Reified), idx)
	s.assert.JSONEq(want, string(s.messageResult.Reified[idx]))
	return s
}

func (s *WorkflowStage) the_reified_text_payload_was(idx int, want string) *WorkflowStage {
	s.require.NotNil(s.messageResult)
	s.require.Greater(len(s.messageResult.Reified), idx)
	s.assert.Equal(want, string(s.messageResult.Reified[idx]))
	return s
}

func (s *WorkflowStage) pactPath() string {
	if s.httpResult != nil && s.httpResult.PactPath != "" {
		return s.httpResult.PactPath
	}
	if s.messageResult != nil {
		return s.messageResult.PactPath
	}
	return ""
}

func (s *WorkflowStage) pactDoc() gjson.Result {
	s.t.Helper()
	path := s.pactPath()
	s.require.NotEmpty(path, "no pact file was written")
	data, err := os.ReadFile(path)
	s.require.NoError(err)
	return gjson.ParseBytes(data)
}
