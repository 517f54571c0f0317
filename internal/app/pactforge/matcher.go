package pactforge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// matcherTypeKey marks a JSON object as a matcher annotation. The object is
// replaced in the stored contents by its example value, and a matching rule
// is recorded for its path.
const matcherTypeKey = "pact:matcher:type"

// MatchRule is a single matching rule attached to a body path, serialized
// into the matchingRules block of the pact file.
type MatchRule struct {
	Match string `json:"match"`
	Regex string `json:"regex,omitempty"`
}

type pendingRule struct {
	setPath  string
	rulePath string
	value    interface{}
	rule     MatchRule
}

// processBodyTemplate walks a JSON body template, replaces every matcher
// annotation with its example value and returns the resolved contents
// together with the extracted rules, keyed by pact path ("$.id").
func processBodyTemplate(raw []byte) ([]byte, map[string]MatchRule, error) {
	if !gjson.ValidBytes(raw) {
		return nil, nil, errors.New("body template is not valid JSON")
	}

	var pending []pendingRule
	if err := collectMatcherRules(gjson.ParseBytes(raw), "", "$", &pending); err != nil {
		return nil, nil, err
	}

	out := append([]byte(nil), raw...)
	rules := make(map[string]MatchRule, len(pending))
	for _, p := range pending {
		if p.setPath == "" {
			// The whole body is a single annotation.
			data, err := json.Marshal(p.value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "unable to resolve matcher at %s", p.rulePath)
			}
			out = data
		} else {
			var err error
			out, err = sjson.SetBytes(out, p.setPath, p.value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "unable to resolve matcher at %s", p.rulePath)
			}
		}
		rules[p.rulePath] = p.rule
	}
	return out, rules, nil
}

// collectMatcherRules records an annotation for each object carrying a
// matcher type key. Annotations do not nest: the walk never descends into an
// annotation's example value.
func collectMatcherRules(value gjson.Result, setPath, rulePath string, pending *[]pendingRule) error {
	if value.IsObject() {
		if mt, ok := matcherAnnotation(value); ok {
			resolved, rule, err := resolveMatcher(mt, value)
			if err != nil {
				return errors.Wrapf(err, "matcher at %s", rulePath)
			}
			*pending = append(*pending, pendingRule{setPath: setPath, rulePath: rulePath, value: resolved, rule: rule})
			return nil
		}

		var walkErr error
		value.ForEach(func(key, child gjson.Result) bool {
			childSet := escapeSetKey(key.String())
			if setPath != "" {
				childSet = setPath + "." + childSet
			}
			walkErr = collectMatcherRules(child, childSet, rulePath+"."+key.String(), pending)
			return walkErr == nil
		})
		return walkErr
	}

	if value.IsArray() {
		var walkErr error
		idx := 0
		value.ForEach(func(_, child gjson.Result) bool {
			childSet := strconv.Itoa(idx)
			if setPath != "" {
				childSet = setPath + "." + childSet
			}
			walkErr = collectMatcherRules(child, childSet, fmt.Sprintf("%s[%d]", rulePath, idx), pending)
			idx++
			return walkErr == nil
		})
		return walkErr
	}

	return nil
}

func matcherAnnotation(obj gjson.Result) (gjson.Result, bool) {
	var mt gjson.Result
	found := false
	obj.ForEach(func(key, value gjson.Result) bool {
		if key.String() == matcherTypeKey {
			mt = value
			found = true
			return false
		}
		return true
	})
	return mt, found
}

func resolveMatcher(mt, obj gjson.Result) (interface{}, MatchRule, error) {
	if mt.Type != gjson.String {
		return nil, MatchRule{}, errors.New("matcher type must be a string")
	}
	matchType := strings.TrimSpace(mt.String())
	rule := MatchRule{Match: matchType}

	if matchType == "null" {
		return nil, rule, nil
	}

	example := obj.Get("value")
	if !example.Exists() {
		return nil, MatchRule{}, errors.Errorf("matcher %q requires an example value", matchType)
	}

	switch matchType {
	case "integer":
		v, err := exampleInt(example)
		if err != nil {
			return nil, MatchRule{}, err
		}
		return v, rule, nil
	case "decimal":
		v, err := exampleFloat(example)
		if err != nil {
			return nil, MatchRule{}, err
		}
		return v, rule, nil
	case "number":
		if v, err := exampleInt(example); err == nil {
			return v, rule, nil
		}
		v, err := exampleFloat(example)
		if err != nil {
			return nil, MatchRule{}, err
		}
		return v, rule, nil
	case "boolean":
		v, err := exampleBool(example)
		if err != nil {
			return nil, MatchRule{}, err
		}
		return v, rule, nil
	case "regex":
		pattern := obj.Get("regex")
		if pattern.Type != gjson.String {
			return nil, MatchRule{}, errors.New("regex matcher requires a regex field")
		}
		if _, err := regexp.Compile(pattern.String()); err != nil {
			return nil, MatchRule{}, errors.Wrap(err, "invalid regex matcher")
		}
		rule.Regex = pattern.String()
		return example.Value(), rule, nil
	case "equality", "type", "include", "date", "time", "datetime", "uuid":
		return example.Value(), rule, nil
	}
	return nil, MatchRule{}, errors.Errorf("unsupported matcher type %q", matchType)
}

func exampleInt(example gjson.Result) (int64, error) {
	switch example.Type {
	case gjson.Number:
		v, err := strconv.ParseInt(example.Raw, 10, 64)
		if err != nil {
			return 0, errors.Errorf("matcher value %s is not an integer", example.Raw)
		}
		return v, nil
	case gjson.String:
		v, err := strconv.ParseInt(strings.TrimSpace(example.Str), 10, 64)
		if err != nil {
			return 0, errors.Errorf("matcher value %q is not an integer", example.Str)
		}
		return v, nil
	}
	return 0, errors.Errorf("matcher value %s is not an integer", example.Raw)
}

func exampleFloat(example gjson.Result) (float64, error) {
	switch example.Type {
	case gjson.Number:
		return example.Float(), nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(example.Str), 64)
		if err != nil {
			return 0, errors.Errorf("matcher value %q is not a number", example.Str)
		}
		return v, nil
	}
	return 0, errors.Errorf("matcher value %s is not a number", example.Raw)
}

func exampleBool(example gjson.Result) (bool, error) {
	switch example.Type {
	case gjson.True, gjson.False:
		return example.Bool(), nil
	case gjson.String:
		v, err := strconv.ParseBool(strings.TrimSpace(example.Str))
		if err != nil {
			return false, errors.Errorf("matcher value %q is not a boolean", example.Str)
		}
		return v, nil
	}
	return false, errors.Errorf("matcher value %s is not a boolean", example.Raw)
}

var setKeyEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`*`, `\*`,
	`?`, `\?`,
)

// escapeSetKey escapes characters that carry meaning in gjson/sjson paths so
// object keys round-trip verbatim.
func escapeSetKey(key string) string {
	return setKeyEscaper.Replace(key)
}
