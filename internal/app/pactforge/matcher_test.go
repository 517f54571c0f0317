package pactforge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessBodyTemplateResolvesMatchers(t *testing.T) {
	integerFromString := `{"id": {"pact:matcher:type": "integer", "value": "1"}}`
	integerFromNumber := `{"id": {"pact:matcher:type": "integer", "value": 7}}`
	decimalMatcher := `{"price": {"pact:matcher:type": "decimal", "value": "2.5"}}`
	booleanMatcher := `{"active": {"pact:matcher:type": "boolean", "value": "true"}}`
	nullMatcher := `{"deleted_at": {"pact:matcher:type": "null"}}`
	regexMatcher := `{"state": {"pact:matcher:type": "regex", "regex": "accepted|rejected", "value": "accepted"}}`
	typeMatcher := `{"name": {"pact:matcher:type": "type", "value": "any"}}`
	nestedMatcher := `{"data": {"attributes": {"id": {"pact:matcher:type": "integer", "value": "42"}}}}`
	arrayElementMatcher := `{"items": [{"pact:matcher:type": "integer", "value": "2"}, 3]}`
	rootMatcher := `{"pact:matcher:type": "integer", "value": "1"}`
	dottedKeyMatcher := `{"order.id": {"pact:matcher:type": "integer", "value": "9"}}`

	tests := []struct {
		name         string
		template     string
		wantContents string
		wantRules    map[string]MatchRule
	}{
		{
			name:         "integer matcher with string example",
			template:     integerFromString,
			wantContents: `{"id": 1}`,
			wantRules:    map[string]MatchRule{"$.id": {Match: "integer"}},
		},
		{
			name:         "integer matcher with numeric example",
			template:     integerFromNumber,
			wantContents: `{"id": 7}`,
			wantRules:    map[string]MatchRule{"$.id": {Match: "integer"}},
		},
		{
			name:         "decimal matcher",
			template:     decimalMatcher,
			wantContents: `{"price": 2.5}`,
			wantRules:    map[string]MatchRule{"$.price": {Match: "decimal"}},
		},
		{
			name:         "boolean matcher",
			template:     booleanMatcher,
			wantContents: `{"active": true}`,
			wantRules:    map[string]MatchRule{"$.active": {Match: "boolean"}},
		},
		{
			name:         "null matcher",
			template:     nullMatcher,
			wantContents: `{"deleted_at": null}`,
			wantRules:    map[string]MatchRule{"$.deleted_at": {Match: "null"}},
		},
		{
			name:         "regex matcher keeps the example",
			template:     regexMatcher,
			wantContents: `{"state": "accepted"}`,
			wantRules:    map[string]MatchRule{"$.state": {Match: "regex", Regex: "accepted|rejected"}},
		},
		{
			name:         "type matcher keeps the example",
			template:     typeMatcher,
			wantContents: `{"name": "any"}`,
			wantRules:    map[string]MatchRule{"$.name": {Match: "type"}},
		},
		{
			name:         "nested matcher records the full path",
			template:     nestedMatcher,
			wantContents: `{"data": {"attributes": {"id": 42}}}`,
			wantRules:    map[string]MatchRule{"$.data.attributes.id": {Match: "integer"}},
		},
		{
			name:         "array element matcher records the index",
			template:     arrayElementMatcher,
			wantContents: `{"items": [2, 3]}`,
			wantRules:    map[string]MatchRule{"$.items[0]": {Match: "integer"}},
		},
		{
			name:         "matcher as the entire body",
			template:     rootMatcher,
			wantContents: `1`,
			wantRules:    map[string]MatchRule{"$": {Match: "integer"}},
		},
		{
			name:         "key containing a dot",
			template:     dottedKeyMatcher,
			wantContents: `{"order.id": 9}`,
			wantRules:    map[string]MatchRule{"$.order.id": {Match: "integer"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contents, rules, err := processBodyTemplate([]byte(tt.template))
			require.NoError(t, err)

			assert.JSONEq(t, tt.wantContents, string(contents))
			assert.Equal(t, tt.wantRules, rules)
		})
	}
}

func TestProcessBodyTemplateLeavesPlainBodiesUntouched(t *testing.T) {
	template := `{"street":"line 1","city":"line 2","tags":["a","b"]}`

	contents, rules, err := processBodyTemplate([]byte(template))
	require.NoError(t, err)

	assert.Equal(t, template, string(contents))
	assert.Empty(t, rules)
}

func TestProcessBodyTemplateErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  string
	}{
		{
			name:     "invalid JSON",
			template: `{"id": `,
			wantErr:  "not valid JSON",
		},
		{
			name:     "unknown matcher type",
			template: `{"id": {"pact:matcher:type": "fancy", "value": "1"}}`,
			wantErr:  `unsupported matcher type "fancy"`,
		},
		{
			name:     "matcher type is not a string",
			template: `{"id": {"pact:matcher:type": 5, "value": "1"}}`,
			wantErr:  "matcher type must be a string",
		},
		{
			name:     "missing example value",
			template: `{"id": {"pact:matcher:type": "integer"}}`,
			wantErr:  "requires an example value",
		},
		{
			name:     "integer example is not an integer",
			template: `{"id": {"pact:matcher:type": "integer", "value": "one"}}`,
			wantErr:  "is not an integer",
		},
		{
			name:     "integer example is fractional",
			template: `{"id": {"pact:matcher:type": "integer", "value": 1.5}}`,
			wantErr:  "is not an integer",
		},
		{
			name:     "boolean example is not a boolean",
			template: `{"active": {"pact:matcher:type": "boolean", "value": "maybe"}}`,
			wantErr:  "is not a boolean",
		},
		{
			name:     "regex matcher without regex field",
			template: `{"state": {"pact:matcher:type": "regex", "value": "accepted"}}`,
			wantErr:  "requires a regex field",
		},
		{
			name:     "regex matcher with invalid pattern",
			template: `{"state": {"pact:matcher:type": "regex", "regex": "[", "value": "accepted"}}`,
			wantErr:  "invalid regex matcher",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := processBodyTemplate([]byte(tt.template))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProcessBodyTemplateReportsMatcherPath(t *testing.T) {
	template := `{"data": {"items": [{"pact:matcher:type": "integer", "value": "x"}]}}`

	_, _, err := processBodyTemplate([]byte(template))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "$.data.items[0]")
}
