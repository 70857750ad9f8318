// Package tomlkeys flattens TOML documents into dotted, normalized keys so
// that tables, dotted keys and env-style spellings resolve to one name.
package tomlkeys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

type Store struct {
	flat map[string]any
}

func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.flat))
	for key, value := range s.flat {
		flat[key] = value
	}
	return flat
}

// Keys returns the normalized keys in sorted order.
func (s Store) Keys() []string {
	keys := make([]string, 0, len(s.flat))
	for key := range s.flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s Store) Get(key string) (any, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	return value, ok
}

func Decode(data []byte) (Store, error) {
	raw := map[string]any{}
	_, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Store{}, err
	}
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	normalized := make(map[string]any, len(flat))
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; exists {
			return Store{}, fmt.Errorf("duplicate key %q after normalization", normalizedKey)
		}
		normalized[normalizedKey] = flat[key]
	}
	return Store{flat: normalized}, nil
}

// NormalizeKey lowercases each segment and spells underscores as hyphens:
// "Server.AUTH_TOKEN" becomes "server.auth-token".
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(part)), "_", "-")
	}
	return strings.Join(parts, ".")
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenMap(full, nested, out)
			continue
		}
		out[full] = value
	}
}
