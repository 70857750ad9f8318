package kvstore

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadFile seeds the store from a YAML document. Nested mappings become
// keys joined with the store separator.
func (s *Store) LoadFile(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer file.Close()
	return s.Load(file)
}

func (s *Store) Load(reader io.Reader) (int, error) {
	var document map[string]any
	if err := yaml.NewDecoder(reader).Decode(&document); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("decode seed file: %w", err)
	}
	pairs := make(map[string]string)
	s.flatten("", document, pairs)

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := s.Put(key, pairs[key], false); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (s *Store) flatten(prefix string, value any, pairs map[string]string) {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			s.flatten(s.join(prefix, key), child, pairs)
		}
	case nil:
		if prefix != "" {
			pairs[prefix] = ""
		}
	default:
		if prefix != "" {
			pairs[prefix] = fmt.Sprint(typed)
		}
	}
}

func (s *Store) join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + s.separator + key
}
