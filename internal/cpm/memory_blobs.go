package cpm

import (
	"context"
	"sync"
)

// MemoryBlobs keeps documents in process memory.
type MemoryBlobs struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{docs: map[string][]byte{}}
}

func (b *MemoryBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (b *MemoryBlobs) Put(ctx context.Context, key string, doc []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[key] = append([]byte(nil), doc...)
	return nil
}
