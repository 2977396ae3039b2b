// Package catalog holds the shared offer catalog snapshot.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/azizikri/offer-feed/internal/domain"
)

// Source fetches the raw catalog from the backend.
type Source interface {
	FetchCatalog(ctx context.Context) ([]domain.Offer, error)
}

// Repository owns the catalog snapshot. It never leaves consumers without a
// renderable list: fetch failures and empty catalogs install MockCatalog.
type Repository struct {
	source Source
	logger *slog.Logger

	mu        sync.RWMutex
	snapshot  []domain.Offer
	counts    ItemCounts
	lastErr   error
	issued    uint64
	installed uint64
	inflight  int

	listenersMu sync.Mutex
	listeners   map[uint64]func([]domain.Offer)
	nextID      uint64
}

func NewRepository(source Source, logger *slog.Logger) *Repository {
	return &Repository{
		source:    source,
		logger:    logger,
		counts:    CountItems(nil),
		listeners: make(map[uint64]func([]domain.Offer)),
	}
}

// Load is Refresh under the name view layers use for the first fetch.
func (r *Repository) Load(ctx context.Context) []domain.Offer {
	return r.Refresh(ctx)
}

// Refresh fetches the catalog and installs it, returning the current snapshot.
// A result that resolves after a newer refresh has been installed is discarded.
func (r *Repository) Refresh(ctx context.Context) []domain.Offer {
	r.mu.Lock()
	r.issued++
	seq := r.issued
	r.inflight++
	r.mu.Unlock()

	offers, err := r.source.FetchCatalog(ctx)

	var lastErr error
	switch {
	case err != nil:
		r.logger.Warn("catalog fetch failed, using mock catalog", slog.Any("error", err))
		lastErr = fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
		offers = MockCatalog()
	case len(offers) == 0:
		r.logger.Warn("catalog is empty, using mock catalog")
		lastErr = fmt.Errorf("%w: empty catalog", domain.ErrCatalogUnavailable)
		offers = MockCatalog()
	}

	r.mu.Lock()
	r.inflight--
	if seq < r.installed {
		current := r.snapshot
		r.mu.Unlock()
		r.logger.Debug("discarding stale catalog result", slog.Uint64("seq", seq))
		return current
	}
	r.installed = seq
	r.snapshot = offers
	r.counts = CountItems(offers)
	r.lastErr = lastErr
	r.mu.Unlock()

	r.logger.Info("catalog installed", slog.Int("offers", len(offers)), slog.Bool("mock", lastErr != nil))
	r.notify(offers)
	return offers
}

// Run refreshes on a fixed interval until ctx is cancelled.
func (r *Repository) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Repository) Snapshot() []domain.Offer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Repository) Counts() ItemCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts
}

// LastError reports why the snapshot is the mock catalog, or nil.
func (r *Repository) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *Repository) IsLoading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inflight > 0
}

// OnChange registers fn to run after every installed snapshot.
func (r *Repository) OnChange(fn func([]domain.Offer)) (unsubscribe func()) {
	r.listenersMu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Repository) notify(offers []domain.Offer) {
	r.listenersMu.Lock()
	fns := make([]func([]domain.Offer), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.Unlock()

	for _, fn := range fns {
		fn(offers)
	}
}
