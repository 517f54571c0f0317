package pactforge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// Match result keys, as they appear in mismatch reports and mock server
// error payloads.
const (
	matchKeyMismatch   = "Request-Mismatch"
	matchKeyUnexpected = "Unexpected-Request"
	matchKeyMissing    = "Missing-Request"
	matchKeyDuplicate  = "Duplicate-Request"
)

// Mismatch describes one verification failure of a mock server session.
type Mismatch struct {
	Kind        string   `json:"type"`
	Interaction string   `json:"interaction,omitempty"`
	Request     string   `json:"request,omitempty"`
	Details     []string `json:"details,omitempty"`
}

const fmtLen = "_length_"

// interactionConstraint is an exact-value expectation on a request document
// path, derived from the resolved JSON request body.
type interactionConstraint struct {
	Path   string        `json:"path"`
	Values []interface{} `json:"values"`
	Format string        `json:"format"`
}

func (i interactionConstraint) check(actualValue interface{}) error {
	if i.Format == fmtLen {
		if len(i.Values) != 1 {
			return fmt.Errorf(
				"expected single positive integer value for path %q length constraint, but there are %v expected values",
				i.Path, len(i.Values))
		}
		expected, ok := i.Values[0].(int)
		if !ok || expected < 0 {
			return fmt.Errorf("expected value for %q length constraint must be a positive integer", i.Path)
		}

		actualSlice, ok := actualValue.([]interface{})
		if !ok {
			return fmt.Errorf("value at path %q must be an array due to length constraint", i.Path)
		}
		if expected != len(actualSlice) {
			return fmt.Errorf("value of length %v at path %q does not match length constraint %v",
				len(actualSlice), i.Path, expected)
		}
		return nil
	}

	expected := fmt.Sprintf(i.Format, i.Values...)
	actual := fmt.Sprintf("%v", actualValue)
	if expected != actual {
		return fmt.Errorf("value %q at path %q does not match constraint %q", actual, i.Path, expected)
	}
	return nil
}

// requestDocument is the view of an incoming request that constraints are
// evaluated against with jsonpath.
type requestDocument map[string]interface{}

func parseRequest(r *http.Request, data []byte) requestDocument {
	doc := requestDocument{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   parseQueryValues(r.URL),
		"headers": parseHeaderValues(r.Header),
	}
	doc["body"] = parseBodyValue(r.Header.Get("Content-Type"), data)
	return doc
}

func parseBodyValue(contentType string, data []byte) interface{} {
	if len(data) == 0 {
		return map[string]interface{}{}
	}
	if contentType != "" && isJSONMediaType(contentType) {
		if value, err := decodeBody(data); err == nil {
			return value
		}
	}
	return string(data)
}

func decodeBody(data []byte) (interface{}, error) {
	body := make(map[string]interface{})
	if len(data) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		// The body may be an array or a bare scalar.
		var value interface{}
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, err
		}
		return value, nil
	}
	return body, nil
}

func parseQueryValues(url *url.URL) map[string]interface{} {
	queryValues := make(map[string]interface{})
	for q, v := range url.Query() {
		if len(v) > 0 {
			queryValues[q] = v[0]
		}
	}
	return queryValues
}

func parseHeaderValues(header http.Header) map[string]interface{} {
	headerValues := make(map[string]interface{})
	for name, values := range header {
		headerValues[name] = strings.Join(values, ", ")
	}
	return headerValues
}

// checkRequest evaluates the header, query and body expectations of the
// interaction against an incoming request. The path and method have already
// been matched by the caller.
func (i *Interaction) checkRequest(doc requestDocument, header http.Header, query url.Values) (bool, []string) {
	violations := i.checkHeaders(header)
	violations = append(violations, i.checkQuery(query)...)
	violations = append(violations, i.checkConstraints(doc)...)
	return len(violations) == 0, violations
}

func (i *Interaction) checkHeaders(header http.Header) []string {
	var violations []string
	for _, name := range sortedHeaderNames(i.request.headers) {
		expected := i.request.headers[name]
		actual := header.Values(name)
		for idx, want := range expected {
			if want == "" {
				continue
			}
			if len(actual) <= idx {
				violations = append(violations, fmt.Sprintf("missing expected header '%s: %s'", name, want))
				continue
			}
			if actual[idx] != want {
				violations = append(violations,
					fmt.Sprintf("header '%s' value '%s' does not match expected '%s'", name, actual[idx], want))
			}
		}
	}
	return violations
}

func (i *Interaction) checkQuery(query url.Values) []string {
	var violations []string
	for _, name := range sortedHeaderNames(i.query) {
		expected := i.query[name]
		actual, ok := query[name]
		if !ok {
			violations = append(violations, fmt.Sprintf("missing expected query parameter '%s'", name))
			continue
		}
		for idx, want := range expected {
			if want == "" {
				continue
			}
			if len(actual) <= idx {
				violations = append(violations,
					fmt.Sprintf("missing expected query parameter '%s' value '%s'", name, want))
				continue
			}
			if actual[idx] != want {
				violations = append(violations,
					fmt.Sprintf("query parameter '%s' value '%s' does not match expected '%s'", name, actual[idx], want))
			}
		}
	}
	for name := range query {
		if _, ok := i.query[name]; !ok {
			violations = append(violations, fmt.Sprintf("unexpected query parameter '%s'", name))
		}
	}
	sort.Strings(violations)
	return violations
}

func (i *Interaction) checkConstraints(doc requestDocument) []string {
	var violations []string
	paths := make([]string, 0, len(i.constraints))
	for path := range i.constraints {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		constraint := i.constraints[path]
		val, err := jsonpath.Get(constraint.Path, map[string]interface{}(doc))
		if err != nil {
			violations = append(violations, fmt.Sprintf("no value found at path %q", constraint.Path))
			continue
		}
		if err := constraint.check(val); err != nil {
			violations = append(violations, err.Error())
		}
	}
	return violations
}

func sortedHeaderNames(m map[string][]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
