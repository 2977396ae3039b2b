// Package paginate windows an in-memory list into fixed-size pages.
package paginate

import "sync"

const DefaultPageSize = 12

// Paginator slices a fully loaded list client-side. Pages are 1-based.
type Paginator[T any] struct {
	mu           sync.RWMutex
	items        []T
	pageSize     int
	page         int
	loading      bool
	onPageChange func(page int)
}

// New returns an empty paginator. pageSize <= 0 uses DefaultPageSize.
// onPageChange, if set, runs after every SetPage (the scroll-to-top hook).
func New[T any](pageSize int, onPageChange func(page int)) *Paginator[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator[T]{pageSize: pageSize, page: 1, onPageChange: onPageChange}
}

// SetItems replaces the list and returns to page 1.
func (p *Paginator[T]) SetItems(items []T) {
	p.mu.Lock()
	p.items = items
	p.page = 1
	p.loading = false
	p.mu.Unlock()
}

func (p *Paginator[T]) SetLoading(loading bool) {
	p.mu.Lock()
	p.loading = loading
	p.mu.Unlock()
}

func (p *Paginator[T]) IsLoading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loading
}

// SetPage moves to page n, clamped to [1, TotalPages()], and returns the page
// actually selected.
func (p *Paginator[T]) SetPage(n int) int {
	p.mu.Lock()
	last := max(totalPages(len(p.items), p.pageSize), 1)
	n = min(max(n, 1), last)
	p.page = n
	hook := p.onPageChange
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return n
}

func (p *Paginator[T]) CurrentPage() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.page
}

func (p *Paginator[T]) TotalPages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return totalPages(len(p.items), p.pageSize)
}

func (p *Paginator[T]) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Page returns the items on the current page.
func (p *Paginator[T]) Page() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()

	start := (p.page - 1) * p.pageSize
	if start >= len(p.items) {
		return nil
	}
	end := min(start+p.pageSize, len(p.items))
	return p.items[start:end]
}

func totalPages(n, size int) int {
	return (n + size - 1) / size
}
