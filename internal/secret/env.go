package secret

import (
	"os"
	"strings"
	"sync"
)

// EnvPrefix is prepended to every environment lookup.
const EnvPrefix = "EXTRACTOR_SECRET_"

// EnvStore reads secrets from the environment and keeps writes in memory.
// "target:42" is read from EXTRACTOR_SECRET_TARGET_42.
type EnvStore struct {
	mu      sync.RWMutex
	overlay map[string][]byte
	deleted map[string]bool
	lookup  func(string) (string, bool)
}

// NewEnvStore creates an EnvStore over os.LookupEnv.
func NewEnvStore() *EnvStore {
	return NewEnvStoreWithLookup(os.LookupEnv)
}

// NewEnvStoreWithLookup creates an EnvStore over a custom lookup.
func NewEnvStoreWithLookup(lookup func(string) (string, bool)) *EnvStore {
	return &EnvStore{
		overlay: map[string][]byte{},
		deleted: map[string]bool{},
		lookup:  lookup,
	}
}

// EnvName returns the variable consulted for key.
func EnvName(key string) string {
	var sb strings.Builder
	sb.WriteString(EnvPrefix)
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func (s *EnvStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay[key] = append([]byte(nil), value...)
	delete(s.deleted, key)
	return nil
}

func (s *EnvStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overlay[key]; ok {
		return append([]byte(nil), v...), nil
	}
	if s.deleted[key] {
		return nil, nil
	}
	if v, ok := s.lookup(EnvName(key)); ok {
		return []byte(v), nil
	}
	return nil, nil
}

func (s *EnvStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlay, key)
	s.deleted[key] = true
	return nil
}
