// Package loader assembles the in-memory snapshot the read-only views work
// from: the taxonomy plus every configured product document. Product loads
// fan out concurrently; a product that fails to load is logged and omitted,
// while a taxonomy failure blocks the whole snapshot.
package loader

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

// Snapshot is one immutable load of the dataset. Consumers read it; the only
// way it changes is a full Reload producing a fresh one.
type Snapshot struct {
	Tags     []domain.Tag
	Products []domain.Product
	// Failed names the products that could not be loaded this round.
	Failed []string
}

// Loader builds snapshots from a Store.
type Loader struct {
	store *storage.Store
	log   *zap.Logger

	mu   sync.RWMutex
	snap *Snapshot
}

// New creates a Loader. No snapshot exists until the first Load.
func New(store *storage.Store, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{store: store, log: log}
}

// Load reads the taxonomy and all product documents, caches the snapshot and
// returns it.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	tax, err := l.store.Taxonomy()
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}

	keys, err := l.store.ProductKeys()
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	products := make([]*domain.Product, len(keys))
	failed := make([]bool, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := l.store.Product(key)
			if err != nil {
				l.log.Warn("product load failed", zap.String("product", key), zap.Error(err))
				failed[i] = true
				return nil
			}
			products[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	snap := &Snapshot{Tags: tax.PrimaryTags}
	for i, p := range products {
		if failed[i] {
			snap.Failed = append(snap.Failed, keys[i])
			continue
		}
		if p != nil {
			snap.Products = append(snap.Products, *p)
		}
	}

	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
	return snap, nil
}

// Snapshot returns the cached snapshot, or nil before the first Load.
func (l *Loader) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Reload is Load under its explicit-refresh name; mutating admin flows call
// it after a write so the read views catch up.
func (l *Loader) Reload(ctx context.Context) (*Snapshot, error) {
	return l.Load(ctx)
}

// Product finds a product in the snapshot by name.
func (s *Snapshot) Product(name string) (domain.Product, bool) {
	for _, p := range s.Products {
		if p.Name == name {
			return p, true
		}
	}
	return domain.Product{}, false
}
