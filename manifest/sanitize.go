package manifest

// Node is an algebraic representation of a decoded JSON/YAML/plist value,
// used only by Sanitize to recursively strip nulls before a resolved
// manifest is persisted to the disk cache (§4.6 "the decoded object is
// sanitized: null values are recursively stripped from dictionaries and
// arrays so the disk format remains a valid property list" — plist has no
// null representation, so any survivor would fail to round-trip).
type Node struct {
	Dict  map[string]Node
	List  []Node
	Scalar any
	IsNull bool
}

// Sanitize walks an arbitrary decoded value (as produced by
// encoding/json.Unmarshal into any, gopkg.in/yaml.v3, or howett.net/plist
// into any) and returns a copy with every null stripped from dictionaries
// and arrays.
func Sanitize(v any) any {
	return sanitizeNode(toNode(v)).toValue()
}

func toNode(v any) Node {
	if v == nil {
		return Node{IsNull: true}
	}
	switch t := v.(type) {
	case map[string]any:
		dict := make(map[string]Node, len(t))
		for k, val := range t {
			dict[k] = toNode(val)
		}
		return Node{Dict: dict}
	case map[any]any: // yaml.v3 can decode maps with non-string keys
		dict := make(map[string]Node, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				dict[ks] = toNode(val)
			}
		}
		return Node{Dict: dict}
	case []any:
		list := make([]Node, len(t))
		for i, val := range t {
			list[i] = toNode(val)
		}
		return Node{List: list}
	default:
		return Node{Scalar: v}
	}
}

func (n Node) toValue() any {
	switch {
	case n.IsNull:
		return nil
	case n.Dict != nil:
		out := make(map[string]any, len(n.Dict))
		for k, v := range n.Dict {
			out[k] = v.toValue()
		}
		return out
	case n.List != nil:
		out := make([]any, len(n.List))
		for i, v := range n.List {
			out[i] = v.toValue()
		}
		return out
	default:
		return n.Scalar
	}
}

// sanitizeNode recursively strips null entries from dictionaries and
// arrays. A dictionary value that is itself null is dropped from the
// dictionary entirely; a null array element is dropped from the array.
func sanitizeNode(n Node) Node {
	switch {
	case n.Dict != nil:
		out := make(map[string]Node, len(n.Dict))
		for k, v := range n.Dict {
			if v.IsNull {
				continue
			}
			out[k] = sanitizeNode(v)
		}
		return Node{Dict: out}
	case n.List != nil:
		out := make([]Node, 0, len(n.List))
		for _, v := range n.List {
			if v.IsNull {
				continue
			}
			out = append(out, sanitizeNode(v))
		}
		return Node{List: out}
	default:
		return n
	}
}
