package condition

import "strings"

// lookupField resolves a field name against snapshot attributes. An exact
// key wins; otherwise the name is treated as a dot path into nested maps
// ("engine.hours").
func lookupField(attrs map[string]interface{}, field string) (interface{}, bool) {
	if attrs == nil {
		return nil, false
	}
	if v, ok := attrs[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	var current interface{} = attrs
	for _, part := range strings.Split(field, ".") {
		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		case map[interface{}]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}
