package config

import (
	"strings"

	"github.com/pkg/errors"
)

// AttributeMap is a convenience wrapper for pulling out typed information from a raw JSON
// object. Nested objects are AttributeMaps too.
type AttributeMap map[string]interface{}

// Has returns whether or not the given dotted path has a value.
func (am AttributeMap) Has(path string) bool {
	_, ok := am.Get(path)
	return ok
}

// Get returns the value at a dotted path such as "drive.goto_speed_limit".
func (am AttributeMap) Get(path string) (interface{}, bool) {
	keys := strings.Split(path, ".")
	cur := am
	for i, key := range keys {
		v, ok := cur[key]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		if cur, ok = asMap(v); !ok {
			return nil, false
		}
	}
	return nil, false
}

// Set stores value at a dotted path, creating intermediate objects as needed.
func (am AttributeMap) Set(path string, value interface{}) error {
	keys := strings.Split(path, ".")
	cur := am
	for _, key := range keys[:len(keys)-1] {
		if key == "" {
			return errors.Errorf("empty key in %q", path)
		}
		next, ok := cur[key]
		if !ok {
			child := AttributeMap{}
			cur[key] = child
			cur = child
			continue
		}
		if cur, ok = asMap(next); !ok {
			return errors.Errorf("%q is not an object", key)
		}
	}
	last := keys[len(keys)-1]
	if last == "" {
		return errors.Errorf("empty key in %q", path)
	}
	cur[last] = value
	return nil
}

func asMap(v interface{}) (AttributeMap, bool) {
	switch m := v.(type) {
	case AttributeMap:
		return m, true
	case map[string]interface{}:
		return AttributeMap(m), true
	default:
		return nil, false
	}
}
