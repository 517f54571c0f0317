package pactforge

import (
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	mediaTypeJSON = "application/json"
	mediaTypeText = "text/plain"
)

// isJSONMediaType reports whether contents with this content type are JSON
// documents, covering suffixed types such as application/hal+json.
func isJSONMediaType(contentType string) bool {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	return mediaType == mediaTypeJSON || strings.HasSuffix(mediaType, "+json")
}

type pathMatcher interface {
	match(val string) bool
}

type stringPathMatcher struct {
	val string
}

func (m *stringPathMatcher) match(val string) bool {
	return val == m.val
}

type regexPathMatcher struct {
	val *regexp.Regexp
}

func (m *regexPathMatcher) match(val string) bool {
	return m.val.MatchString(val)
}

// httpPart holds the expectation for one side of an HTTP interaction.
type httpPart struct {
	headers     map[string][]string
	contentType string
	body        []byte
	rules       map[string]MatchRule
	hasBody     bool
}

func newHTTPPart() *httpPart {
	return &httpPart{headers: map[string][]string{}}
}

func (p *httpPart) setHeader(name string, index int, value string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("header name must not be empty")
	}
	if index < 0 {
		return errors.Errorf("header %q index must not be negative", name)
	}
	values := p.headers[name]
	for len(values) <= index {
		values = append(values, "")
	}
	values[index] = value
	p.headers[name] = values
	return nil
}

// Interaction is a single HTTP request/response expectation belonging to a
// Pact. Builder methods record the first error they hit; the error surfaces
// when a mock server is started or the pact is written. Once a mock server
// has been started the interaction must not be mutated.
type Interaction struct {
	Description string
	Method      string

	pathMatcher pathMatcher
	path        string
	pathRule    *MatchRule
	states      []string
	query       map[string][]string
	request     *httpPart
	response    *httpPart
	status      int
	constraints map[string]interactionConstraint
	err         error
}

func (i *Interaction) recordErr(err error) {
	if i.err == nil {
		i.err = err
	}
}

// Given records a provider state the interaction depends on.
func (i *Interaction) Given(state string) *Interaction {
	if strings.TrimSpace(state) == "" {
		i.recordErr(errors.New("provider state must not be empty"))
		return i
	}
	i.states = append(i.states, state)
	return i
}

// WithRequest sets the expected method and path. The method is matched
// case-insensitively; the path is matched verbatim unless a path rule is
// installed with WithPathRule.
func (i *Interaction) WithRequest(method, path string) *Interaction {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		i.recordErr(errors.New("request method must not be empty"))
		return i
	}
	if !strings.HasPrefix(path, "/") {
		i.recordErr(errors.Errorf("request path %q must start with /", path))
		return i
	}
	i.Method = method
	i.path = path
	if i.pathRule == nil {
		i.pathMatcher = &stringPathMatcher{val: path}
	}
	return i
}

// WithPathRule matches the request path against a regular expression instead
// of the verbatim path. The example is recorded in the pact file.
func (i *Interaction) WithPathRule(regex, example string) *Interaction {
	rx, err := regexp.Compile("^" + regex + "$")
	if err != nil {
		i.recordErr(errors.Wrap(err, "cannot parse path regex rule"))
		return i
	}
	if example != "" {
		i.path = example
	}
	i.pathMatcher = &regexPathMatcher{val: rx}
	i.pathRule = &MatchRule{Match: "regex", Regex: regex}
	return i
}

// WithHeader sets the expected request header value at the given index.
// Values for the same header name accumulate by index.
func (i *Interaction) WithHeader(name string, index int, value string) *Interaction {
	if err := i.request.setHeader(name, index, value); err != nil {
		i.recordErr(err)
	}
	return i
}

// WithQuery sets the expected query parameter value at the given index.
func (i *Interaction) WithQuery(name string, index int, value string) *Interaction {
	if strings.TrimSpace(name) == "" {
		i.recordErr(errors.New("query parameter name must not be empty"))
		return i
	}
	if index < 0 {
		i.recordErr(errors.Errorf("query parameter %q index must not be negative", name))
		return i
	}
	if i.query == nil {
		i.query = map[string][]string{}
	}
	values := i.query[name]
	for len(values) <= index {
		values = append(values, "")
	}
	values[index] = value
	i.query[name] = values
	return i
}

// WithJSONBody sets the expected request body from a JSON template. Matcher
// annotations in the template are resolved into example values and matching
// rules; every other leaf becomes an exact-value constraint on incoming
// requests.
func (i *Interaction) WithJSONBody(body []byte) *Interaction {
	contents, rules, err := processBodyTemplate(body)
	if err != nil {
		i.recordErr(errors.Wrap(err, "unable to parse request body"))
		return i
	}
	i.request.body = contents
	i.request.rules = rules
	i.request.contentType = mediaTypeJSON
	i.request.hasBody = true
	if err := i.addJSONConstraints(contents, rules); err != nil {
		i.recordErr(err)
	}
	return i
}

// WillRespondWith sets the response status returned by the mock server.
func (i *Interaction) WillRespondWith(status int) *Interaction {
	if status < 100 || status > 599 {
		i.recordErr(errors.Errorf("response status %d out of range", status))
		return i
	}
	i.status = status
	return i
}

// WithResponseHeader sets a response header value at the given index.
func (i *Interaction) WithResponseHeader(name string, index int, value string) *Interaction {
	if err := i.response.setHeader(name, index, value); err != nil {
		i.recordErr(err)
	}
	return i
}

// WithResponseJSONBody sets the response body from a JSON template. Matcher
// annotations are resolved the same way as for request bodies.
func (i *Interaction) WithResponseJSONBody(body []byte) *Interaction {
	contents, rules, err := processBodyTemplate(body)
	if err != nil {
		i.recordErr(errors.Wrap(err, "unable to parse response body"))
		return i
	}
	i.response.body = contents
	i.response.rules = rules
	i.response.contentType = mediaTypeJSON
	i.response.hasBody = true
	return i
}

// Match reports whether the method and path identify this interaction.
func (i *Interaction) Match(path, method string) bool {
	return method == i.Method && i.pathMatcher.match(path)
}

// Path returns the example request path, which is also the verbatim match
// target when no path rule is installed.
func (i *Interaction) Path() string {
	return i.path
}

// RequestBody returns the expected request body with matcher annotations
// replaced by their example values, or nil when no body is expected.
func (i *Interaction) RequestBody() []byte {
	if !i.request.hasBody {
		return nil
	}
	return append([]byte(nil), i.request.body...)
}

// addJSONConstraints derives exact-value constraints for every leaf of the
// resolved request body that is not covered by a matching rule.
func (i *Interaction) addJSONConstraints(contents []byte, rules map[string]MatchRule) error {
	value, err := decodeBody(contents)
	if err != nil {
		return errors.Wrap(err, "unable to parse request body")
	}

	covered := make(map[string]bool, len(rules))
	for path := range rules {
		covered["$.body"+strings.TrimPrefix(path, "$")] = true
	}
	i.addJSONConstraintsFromBody("$.body", covered, value)
	return nil
}

func (i *Interaction) addJSONConstraintsFromBody(path string, covered map[string]bool, value interface{}) {
	if covered[path] {
		return
	}
	switch val := value.(type) {
	case map[string]interface{}:
		for k, v := range val {
			i.addJSONConstraintsFromBody(path+"."+k, covered, v)
		}
	case []interface{}:
		for idx, v := range val {
			i.addJSONConstraintsFromBody(fmt.Sprintf("%s[%d]", path, idx), covered, v)
		}
		i.addConstraint(interactionConstraint{
			Path:   path,
			Format: fmtLen,
			Values: []interface{}{len(val)},
		})
	default:
		i.addConstraint(interactionConstraint{
			Path:   path,
			Format: "%v",
			Values: []interface{}{val},
		})
	}
}

func (i *Interaction) addConstraint(constraint interactionConstraint) {
	if i.constraints == nil {
		i.constraints = map[string]interactionConstraint{}
	}
	i.constraints[constraint.Path] = constraint
}
