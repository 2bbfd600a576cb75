package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

const (
	maxValueDepth    = 64
	maxValueElements = 100_000
)

var errValueTooLarge = errors.New("value too large")

// converter bounds one conversion: nesting depth, containers that appear
// inside themselves, and the total number of elements visited.
type converter struct {
	depth  int
	budget int
	active map[starlark.Value]bool
}

func newConverter() *converter {
	return &converter{budget: maxValueElements, active: make(map[starlark.Value]bool)}
}

// toGo converts a Starlark value into plain Go data suitable for JSON:
// nil, bool, int64, float64, string, []any and map[string]any. Dict keys
// must be strings.
func toGo(v starlark.Value) (any, error) {
	return newConverter().toGo(v)
}

// mutable reports whether v is a container that can reference itself.
// Tuples are slices and must not be used as map keys.
func mutable(v starlark.Value) bool {
	switch v.(type) {
	case *starlark.Dict, *starlark.List, *starlark.Set:
		return true
	}
	return false
}

func (c *converter) enter(v starlark.Value) error {
	if c.depth >= maxValueDepth {
		return fmt.Errorf("%w: nested deeper than %d levels", errValueTooLarge, maxValueDepth)
	}
	if n := starlark.Len(v); n > c.budget {
		return fmt.Errorf("%w: more than %d elements", errValueTooLarge, maxValueElements)
	}
	if mutable(v) {
		if c.active[v] {
			return fmt.Errorf("%s contains itself", v.Type())
		}
		c.active[v] = true
	}
	c.depth++
	return nil
}

func (c *converter) leave(v starlark.Value) {
	c.depth--
	if mutable(v) {
		delete(c.active, v)
	}
}

func (c *converter) spend() error {
	c.budget--
	if c.budget < 0 {
		return fmt.Errorf("%w: more than %d elements", errValueTooLarge, maxValueElements)
	}
	return nil
}

func (c *converter) toGo(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		return float64(x.Float()), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case *tableValue:
		return x.t.Name, nil
	case starlark.IterableMapping:
		if err := c.enter(v); err != nil {
			return nil, err
		}
		defer c.leave(v)
		out := make(map[string]any)
		for _, kv := range x.Items() {
			if err := c.spend(); err != nil {
				return nil, err
			}
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0].String())
			}
			gv, err := c.toGo(kv[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = gv
		}
		return out, nil
	case starlark.Iterable:
		if err := c.enter(v); err != nil {
			return nil, err
		}
		defer c.leave(v)
		iter := x.Iterate()
		defer iter.Done()
		out := []any{}
		var elem starlark.Value
		for iter.Next(&elem) {
			if err := c.spend(); err != nil {
				return nil, err
			}
			gv, err := c.toGo(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

// toStarlark converts decoded JSON (or plain Go data) into Starlark values.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case string:
		return starlark.String(x), nil
	case []string:
		elems := make([]starlark.Value, len(x))
		for i, s := range x {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for _, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := toStarlark(x[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported Go value of type %T", v)
	}
}

// jsonToStarlark decodes raw JSON into a Starlark value. Empty input yields
// None.
func jsonToStarlark(raw []byte) (starlark.Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return starlark.None, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return toStarlark(v)
}

// structToStarlark converts any JSON-marshalable Go value via its JSON form.
func structToStarlark(v any) (starlark.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonToStarlark(raw)
}
