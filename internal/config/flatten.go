package config

import (
	"fmt"
	"slices"
	"strings"
)

// secretKeys lists the dot-separated keys whose values are masked.
var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"asr.api_key":    true,
	"telegram.token": true,
}

func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten converts a nested map into a flat map with dot-separated keys:
// {"pipeline": {"chunk_seconds": 5}} becomes {"pipeline.chunk_seconds": 5}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten reverses Flatten. A scalar found where a section is needed is
// replaced by the section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		section := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := section[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				section[part] = next
			}
			section = next
		}
		section[parts[len(parts)-1]] = v
	}
	return out
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MaskSecrets returns a copy of flat with secret values shown as "***"
// plus their last four characters. Empty secrets stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && secretKeys[k] && s != "" {
			v = maskSecret(s)
		}
		out[k] = v
	}
	return out
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// defaultKeys holds the flattened defaults, which define the set of
// settable keys and the JSON kind of each.
func defaultKeys() map[string]any {
	m, err := ToMap(Default())
	if err != nil {
		panic(fmt.Sprintf("flatten defaults: %v", err))
	}
	return Flatten(m)
}

// coerce converts a parsed command-line value to the kind the key holds
// in the defaults: secrets and other strings stay strings even when they
// look numeric, and numbers or booleans must parse as such.
func coerce(key string, parsed any, raw string) (any, error) {
	def, ok := defaultKeys()[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	switch def.(type) {
	case string:
		return raw, nil
	case float64:
		if _, ok := parsed.(float64); !ok {
			return nil, fmt.Errorf("%s must be a number, got %q", key, raw)
		}
	case bool:
		if _, ok := parsed.(bool); !ok {
			return nil, fmt.Errorf("%s must be true or false, got %q", key, raw)
		}
	}
	return parsed, nil
}
