// Package storage provides the local durable cache: one JSON document per key,
// written atomically and guarded by a file lock.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid key")
)

// CacheError reports a failed cache operation on a key.
type CacheError struct {
	Key string
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Storage is a file-backed key/value store of JSON documents.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*keyLock
}

// New creates a new Storage rooted at basePath.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*keyLock),
	}
}

// Path returns the directory holding the cache files.
func (s *Storage) Path() string {
	return s.basePath
}

func (s *Storage) keyToFile(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", &CacheError{Key: key, Op: "resolve", Err: ErrInvalidKey}
	}
	return filepath.Join(s.basePath, key+".json"), nil
}

// GetRaw returns the stored bytes for key without decoding them.
func (s *Storage) GetRaw(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &CacheError{Key: key, Op: "read", Err: err}
	}
	return data, nil
}

// Get decodes the value stored under key into v.
func (s *Storage) Get(ctx context.Context, key string, v any) error {
	data, err := s.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &CacheError{Key: key, Op: "decode", Err: err}
	}
	return nil
}

// Put replaces the value stored under key.
func (s *Storage) Put(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &CacheError{Key: key, Op: "encode", Err: err}
	}
	return s.PutRaw(ctx, key, data)
}

// PutRaw replaces the bytes stored under key. The data is written to a temp
// file and renamed into place so readers never observe a partial document.
func (s *Storage) PutRaw(ctx context.Context, key string, data []byte) error {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return &CacheError{Key: key, Op: "write", Err: err}
	}

	return s.locked(key, filePath, func() error {
		tmp := filePath + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return &CacheError{Key: key, Op: "write", Err: err}
		}
		if err := os.Rename(tmp, filePath); err != nil {
			os.Remove(tmp)
			return &CacheError{Key: key, Op: "write", Err: err}
		}
		return nil
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return err
	}

	return s.locked(key, filePath, func() error {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return &CacheError{Key: key, Op: "delete", Err: err}
		}
		return nil
	})
}

// Exists reports whether key has a stored value.
func (s *Storage) Exists(ctx context.Context, key string) bool {
	filePath, err := s.keyToFile(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(filePath)
	return err == nil
}

// Keys returns every stored key in lexical order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}
