package dispatch

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/wippyai/device-bridge/errors"
	"github.com/wippyai/device-bridge/resource"
)

// RefKind names the identifier space a reference points into.
type RefKind string

const (
	RefHandle RefKind = "handle"
	RefBuffer RefKind = "buffer"
)

// Ref is a tagged reference to a handle or buffer, the only form in which
// native resources are visible to scripting code.
type Ref struct {
	Kind RefKind     `cbor:"kind" json:"kind"`
	ID   resource.ID `cbor:"id" json:"id"`
}

// Map returns the reference in its wire form {kind, id}.
func (r Ref) Map() map[string]any {
	return map[string]any{
		"kind": string(r.Kind),
		"id":   int64(r.ID),
	}
}

func (r Ref) String() string {
	return string(r.Kind) + "#" + strconv.FormatUint(uint64(r.ID), 10)
}

// Message is one request from scripting code: an operation name and an
// ordered parameter list. Each parameter is a literal (string, number,
// boolean, nil, list, map) or a Ref.
type Message struct {
	Op     string
	Params []any
}

// ParseMessage decodes a generic mapping of the form {op, params}, as
// produced by a JavaScript engine, a CBOR decoder or a plist decoder.
func ParseMessage(raw map[string]any) (Message, *errors.Error) {
	opVal, ok := raw["op"]
	if !ok {
		return Message{}, errors.InvalidRequest("", []string{"op"}, "missing operation name")
	}
	op, ok := opVal.(string)
	if !ok || op == "" {
		return Message{}, errors.ParamMismatch("", []string{"op"}, "non-empty string", opVal)
	}

	msg := Message{Op: op}
	switch p := raw["params"].(type) {
	case nil:
	case []any:
		msg.Params = p
	default:
		return Message{}, errors.ParamMismatch(op, []string{"params"}, "list", p)
	}
	return msg, nil
}

// normalize converts a decoded parameter into the canonical literal set:
// nil, bool, string, int64, float64, time.Time, []byte, []any,
// map[string]any or Ref. Tagged maps are recognized as references only at
// the top level; below it (nested is true) they stay literal maps.
func normalize(v any, path []string, nested bool) (any, *errors.Error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64, time.Time, []byte:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return normalizeUint(uint64(x), path)
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return normalizeUint(x, path)
	case float32:
		return float64(x), nil
	case Ref:
		if nested {
			return nil, errors.InvalidRequest("", path, "references must be top-level parameters")
		}
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalize(e, appendPath(path, strconv.Itoa(i)), true)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		return normalizeMap(x, path, nested)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, errors.ParamMismatch("", path, "string map key", k)
			}
			m[ks] = e
		}
		return normalizeMap(m, path, nested)
	}
	return nil, errors.InvalidRequest("", path, fmt.Sprintf("unsupported value of type %T", v))
}

func normalizeUint(x uint64, path []string) (any, *errors.Error) {
	if x > math.MaxInt64 {
		return nil, errors.InvalidRequest("", path, "integer out of range")
	}
	return int64(x), nil
}

func normalizeMap(m map[string]any, path []string, nested bool) (any, *errors.Error) {
	if !nested {
		if ref, isRef, err := asRef(m, path); isRef {
			if err != nil {
				return nil, err
			}
			return ref, nil
		}
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		n, err := normalize(e, appendPath(path, k), true)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

// asRef recognizes the tagged form {kind: "handle"|"buffer", id: n}. A map
// with exactly those two keys and a known kind is always a reference; a bad
// id makes it a malformed one.
func asRef(m map[string]any, path []string) (Ref, bool, *errors.Error) {
	if len(m) != 2 {
		return Ref{}, false, nil
	}
	kind, ok := m["kind"].(string)
	if !ok || (kind != string(RefHandle) && kind != string(RefBuffer)) {
		return Ref{}, false, nil
	}
	idVal, ok := m["id"]
	if !ok {
		return Ref{}, false, nil
	}
	id, ok := integral(idVal)
	if !ok || id <= 0 || id > math.MaxUint32 {
		return Ref{}, true, errors.ParamMismatch("", appendPath(path, "id"), "positive integer identifier", idVal)
	}
	return Ref{Kind: RefKind(kind), ID: resource.ID(id)}, true, nil
}

// integral extracts an integer from any numeric type, accepting floats with
// no fractional part (JavaScript numbers arrive as float64).
func integral(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float32:
		return integral(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

// Export converts a success payload into plain data for a transport: every
// Ref becomes its {kind, id} mapping. Other values are returned unchanged.
func Export(v any) any {
	switch x := v.(type) {
	case Ref:
		return x.Map()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Export(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Export(e)
		}
		return out
	}
	return v
}
