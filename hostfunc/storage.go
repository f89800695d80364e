package hostfunc

import (
	"context"
	"errors"
	"slices"
	"sync"
)

const (
	DefaultStorageMaxKeySize   = 256
	DefaultStorageMaxValueSize = 64 * 1024
	DefaultStorageMaxEntries   = 1000
)

var (
	ErrStorageKeyTooLarge   = errors.New("key exceeds max size")
	ErrStorageValueTooLarge = errors.New("value exceeds max size")
	ErrStorageFull          = errors.New("storage full")
)

// Storage backs the interpreter's localStorage: string keys and values that
// outlive a single session. Share one Storage between sessions of the same
// site to keep values across page renders.
type Storage struct {
	data       map[string]string
	maxKey     int
	maxValue   int
	maxEntries int
	mu         sync.RWMutex
}

type StorageOption func(*Storage)

func WithStorageMaxKeySize(n int) StorageOption {
	return func(s *Storage) {
		s.maxKey = n
	}
}

func WithStorageMaxValueSize(n int) StorageOption {
	return func(s *Storage) {
		s.maxValue = n
	}
}

func WithStorageMaxEntries(n int) StorageOption {
	return func(s *Storage) {
		s.maxEntries = n
	}
}

func NewStorage(opts ...StorageOption) *Storage {
	s := &Storage{
		data:       make(map[string]string),
		maxKey:     DefaultStorageMaxKeySize,
		maxValue:   DefaultStorageMaxValueSize,
		maxEntries: DefaultStorageMaxEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Funcs returns the storage functions by the names the interpreter calls.
func (s *Storage) Funcs() map[string]Func {
	return map[string]Func{
		"storage_get":    s.Get,
		"storage_set":    s.Set,
		"storage_remove": s.Remove,
		"storage_keys":   s.Keys,
	}
}

// Register adds the storage functions to r.
func (s *Storage) Register(r *Registry) {
	for name, fn := range s.Funcs() {
		r.Register(name, fn)
	}
}

// Get returns the stored value, or nil when the key is absent.
func (s *Storage) Get(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	return val, nil
}

func (s *Storage) Set(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}
	val, ok := args["value"].(string)
	if !ok {
		return nil, errors.New("value required")
	}
	if len(key) > s.maxKey {
		return nil, ErrStorageKeyTooLarge
	}
	if len(val) > s.maxValue {
		return nil, ErrStorageValueTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && len(s.data) >= s.maxEntries {
		return nil, ErrStorageFull
	}
	s.data[key] = val

	return "ok", nil
}

func (s *Storage) Remove(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

// Keys returns the stored keys in sorted order.
func (s *Storage) Keys(ctx context.Context, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
