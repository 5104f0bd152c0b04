package cpm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

// BlobStore persists CPM documents as opaque blobs keyed by product key.
// Get returns ErrNotFound when no document exists.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, doc []byte) error
}

// Store loads and saves process models through a process-local cache.
type Store struct {
	blobs   BlobStore
	cache   *lru.Cache[string, *Model]
	locks   sync.Map // key -> *sync.Mutex
	genMu   sync.Mutex
	gens    map[string]uint64 // bumped by every Save
	log     logrus.FieldLogger
	nowFunc func() time.Time
}

// NewStore returns a Store over blobs caching up to cacheSize models.
func NewStore(blobs BlobStore, cacheSize int, log logrus.FieldLogger) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("cpm: blob store is required")
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *Model](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("cpm cache: %w", err)
	}
	return &Store{
		blobs:   blobs,
		cache:   cache,
		gens:    map[string]uint64{},
		log:     logging.OrDiscard(log),
		nowFunc: time.Now,
	}, nil
}

// Load returns the model for productKey, falling back to the default model.
// It fails with ErrNoProcessModel when neither exists.
func (s *Store) Load(ctx context.Context, productKey string) (*Model, error) {
	key := normalizeKey(productKey)
	m, err := s.loadKey(ctx, key)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if key == DefaultKey {
		return nil, fmt.Errorf("%w for %q", ErrNoProcessModel, productKey)
	}

	s.log.WithField("product_key", key).Debug("cpm: falling back to default model")
	m, err = s.loadKey(ctx, DefaultKey)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w for %q", ErrNoProcessModel, productKey)
	}
	return m, err
}

func (s *Store) loadKey(ctx context.Context, key string) (*Model, error) {
	if m, ok := s.cache.Get(key); ok {
		return m, nil
	}
	gen := s.generation(key)
	doc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read cpm %q: %w", key, err)
	}
	m, err := Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("decode cpm %q: %w", key, err)
	}
	s.fill(key, gen, m)
	return m, nil
}

func (s *Store) generation(key string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[key]
}

// fill caches m unless a Save landed after the read began.
func (s *Store) fill(key string, gen uint64, m *Model) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[key] == gen {
		s.cache.Add(key, m)
	}
}

// Save validates m and persists it under productKey, replacing any previous
// document. Writers to the same key are serialized; the cache entry is
// invalidated once the write lands. The stored model is returned.
func (s *Store) Save(ctx context.Context, productKey string, m *Model) (*Model, error) {
	key := normalizeKey(productKey)
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidModel)
	}

	saved := *m
	if strings.TrimSpace(saved.ProductKey) == "" {
		saved.ProductKey = key
	}
	if saved.ProductKey != key {
		return nil, fmt.Errorf("%w: productKey %q does not match key %q", ErrInvalidModel, saved.ProductKey, key)
	}
	if err := saved.Validate(); err != nil {
		return nil, err
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := s.nowFunc().UTC()
	if saved.Meta.CreatedAt.IsZero() {
		saved.Meta.CreatedAt = now
	}
	saved.Meta.UpdatedAt = now

	doc, err := Marshal(&saved)
	if err != nil {
		return nil, fmt.Errorf("encode cpm %q: %w", key, err)
	}
	if err := s.blobs.Put(ctx, key, doc); err != nil {
		return nil, fmt.Errorf("write cpm %q: %w", key, err)
	}
	s.genMu.Lock()
	s.gens[key]++
	s.cache.Remove(key)
	s.genMu.Unlock()

	s.log.WithFields(logrus.Fields{"product_key": key, "steps": len(saved.Steps)}).Info("cpm: saved")
	return &saved, nil
}

func (s *Store) lockFor(key string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func normalizeKey(k string) string {
	k = strings.TrimSpace(k)
	if k == "" {
		return DefaultKey
	}
	return k
}
