package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a blob does not exist
var ErrNotFound = errors.New("blob not found")

// MemoryArchive keeps blobs in process. It is used when no storage account
// is configured and in tests.
type MemoryArchive struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// Ensure MemoryArchive implements Archive
var _ Archive = (*MemoryArchive)(nil)

// NewMemoryArchive creates an empty archive
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{blobs: make(map[string][]byte)}
}

func (a *MemoryArchive) Put(ctx context.Context, name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (a *MemoryArchive) Get(ctx context.Context, name string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.blobs[name]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", name, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (a *MemoryArchive) List(ctx context.Context, prefix string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var names []string
	for name := range a.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *MemoryArchive) Delete(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.blobs, name)
	return nil
}
