// Package feed derives each user's personalized offer feed and keeps it in
// sync with catalog, preference and search changes.
package feed

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/azizikri/offer-feed/internal/catalog"
	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/matching"
	"github.com/azizikri/offer-feed/internal/preference"
	"github.com/azizikri/offer-feed/internal/search"
)

// Status is the read-only loading and error state shown next to the feed.
type Status struct {
	IsLoading       bool  `json:"is_loading"`
	CatalogError    error `json:"-"`
	PreferenceError error `json:"-"`
	SyncError       error `json:"-"`
}

// LastError joins every non-nil error in the status.
func (s Status) LastError() error {
	return errors.Join(s.CatalogError, s.PreferenceError, s.SyncError)
}

// Compose builds a feed: personalize, fall back to the whole catalog when
// nothing matches, then narrow by the search term.
func Compose(offers []domain.Offer, prefs domain.PreferenceSet, term string) []domain.Offer {
	personalized := matching.Filter(offers, prefs)
	if len(personalized) == 0 {
		personalized = offers
	}
	return narrow(personalized, term)
}

func narrow(offers []domain.Offer, term string) []domain.Offer {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return offers
	}
	out := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		text := strings.ToLower(o.Title + "\n" + o.Description + "\n" + o.Store + "\n" + o.Category)
		if strings.Contains(text, term) {
			out = append(out, o)
		}
	}
	return out
}

// Controller owns one user's derived feed. It recomputes synchronously on
// every catalog install, preference change and committed search term.
type Controller struct {
	repo   *catalog.Repository
	prefs  *preference.Store
	search *search.Debouncer
	logger *slog.Logger

	mu   sync.RWMutex
	feed []domain.Offer
	term string

	listenersMu sync.Mutex
	listeners   []func([]domain.Offer)

	unsubs []func()
}

func NewController(repo *catalog.Repository, prefs *preference.Store, quiet time.Duration, logger *slog.Logger) *Controller {
	c := &Controller{
		repo:   repo,
		prefs:  prefs,
		logger: logger,
	}
	c.search = search.NewDebouncer(quiet, c.commitTerm)
	c.unsubs = append(c.unsubs,
		repo.OnChange(func([]domain.Offer) { c.Recompute() }),
		prefs.OnChange(func(domain.PreferenceSet) { c.Recompute() }),
	)
	c.Recompute()
	return c
}

// Recompute rebuilds the feed from the current sources.
func (c *Controller) Recompute() {
	c.mu.Lock()
	c.feed = Compose(c.repo.Snapshot(), c.prefs.Snapshot(), c.term)
	feed := c.feed
	c.mu.Unlock()

	c.logger.Debug("feed recomputed", slog.String("user_id", c.prefs.UserID()), slog.Int("offers", len(feed)))

	c.listenersMu.Lock()
	fns := slices.Clone(c.listeners)
	c.listenersMu.Unlock()
	for _, fn := range fns {
		fn(feed)
	}
}

func (c *Controller) Feed() []domain.Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feed
}

// SetSearchTerm feeds raw input to the debouncer.
func (c *Controller) SetSearchTerm(raw string) {
	c.search.Set(raw)
}

// FlushSearch commits the pending search term immediately.
func (c *Controller) FlushSearch() {
	c.search.Flush()
}

func (c *Controller) PendingSearchTerm() string {
	return c.search.Pending()
}

func (c *Controller) CommittedSearchTerm() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.term
}

func (c *Controller) Counts() catalog.ItemCounts {
	return c.repo.Counts()
}

func (c *Controller) Status() Status {
	return Status{
		IsLoading:       c.repo.IsLoading() || c.prefs.IsLoading(),
		CatalogError:    c.repo.LastError(),
		PreferenceError: c.prefs.LastError(),
	}
}

// OnFeedChange registers fn to receive every recomputed feed.
func (c *Controller) OnFeedChange(fn func([]domain.Offer)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// Close detaches the controller from its sources and cancels pending search input.
func (c *Controller) Close() {
	c.search.Stop()
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

func (c *Controller) commitTerm(term string) {
	c.mu.Lock()
	c.term = term
	c.mu.Unlock()
	c.Recompute()
}
