package funscript

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

type cacheEntry struct {
	fingerprint string
	script      *Script
}

// Store loads funscripts and keeps one parsed copy per path, keyed by the
// blake3 fingerprint of the file bytes. A Store lives for one pipeline run
// and is passed by reference; it holds no cross-run state.
type Store struct {
	entries map[string]cacheEntry
	hits    int
	loads   int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]cacheEntry)}
}

// Fingerprint returns the blake3 content fingerprint of data.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// FingerprintFile hashes the file at path.
func FingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return Fingerprint(data), nil
}

// GetOrLoad returns the cached parse for path when the file content is
// unchanged; otherwise it reparses and replaces the entry. Callers receive a
// clone and may mutate it freely.
func (s *Store) GetOrLoad(path string) (*Script, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read funscript %s: %w", path, err)
	}
	fp := Fingerprint(data)

	if entry, ok := s.entries[key]; ok && entry.fingerprint == fp {
		s.hits++
		return entry.script.Clone(), nil
	}

	script, err := Parse(data, path)
	if err != nil {
		delete(s.entries, key)
		return nil, err
	}
	s.loads++
	s.entries[key] = cacheEntry{fingerprint: fp, script: script}
	return script.Clone(), nil
}

// LoadSignal loads path through the cache and resamples it.
func (s *Store) LoadSignal(path string, interval float64) (Signal, error) {
	script, err := s.GetOrLoad(path)
	if err != nil {
		return Signal{}, err
	}
	sig, err := Resample(script.Actions, interval)
	if err != nil {
		return Signal{}, fmt.Errorf("resample %s: %w", path, err)
	}
	return sig, nil
}

// FingerprintOf returns the fingerprint of the cached entry for path, if any.
func (s *Store) FingerprintOf(path string) (string, bool) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	entry, ok := s.entries[key]
	return entry.fingerprint, ok
}

// Stats reports cache hits and full parses since the store was created.
func (s *Store) Stats() (hits, loads int) {
	return s.hits, s.loads
}
