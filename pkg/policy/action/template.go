package action

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

func isTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// resolveParameters renders templated string parameters against the
// chaining context. Non-string values are copied as is; nested maps and
// lists are walked.
func resolveParameters(params map[string]interface{}, c *Context) (map[string]interface{}, error) {
	if len(params) == 0 {
		return params, nil
	}
	data := c.templateData()

	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		resolved, err := resolveValue(k, v, data)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(name string, v interface{}, data map[string]interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		if !isTemplate(val) {
			return val, nil
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, name, err)
		}
		return buf.String(), nil

	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			resolved, err := resolveValue(name+"."+k, item, data)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := resolveValue(fmt.Sprintf("%s[%d]", name, i), item, data)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return v, nil
	}
}
