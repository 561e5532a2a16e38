package event

import (
	"fmt"

	"github.com/clbanning/mxj/v2"
)

// Decode parses a legacy XML event payload into a generic key/value tree.
// Numeric-looking text is coerced first, then boolean-looking text; anything
// else stays a string. Empty elements decode to a nil value. Repeated
// sibling elements become an array only when they occur more than once in
// the source, so a repeatable field that arrives singly stays scalar --
// transforms reading such fields must normalize the shape themselves.
func Decode(payload []byte) (map[string]interface{}, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	m, err := mxj.NewMapXml(payload, true)
	if err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	tree := map[string]interface{}(m)
	for k, v := range tree {
		tree[k] = prune(v)
	}
	return tree, nil
}

// prune replaces what an empty element decodes to with nil, keeping the key
// so consumers see an absent value rather than an empty string or map.
func prune(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return nil
		}
		for k, e := range t {
			t[k] = prune(e)
		}
		return t
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, e := range t {
			if p := prune(e); p != nil {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return t
	default:
		return t
	}
}
