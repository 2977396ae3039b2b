// Package preference keeps a user's preference sets and saved offers in
// memory, mutating them optimistically against the backend.
package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/azizikri/offer-feed/internal/domain"
)

// savedBucket keys the saved-offer collection next to the three categories.
const savedBucket domain.Category = "saved"

type remoteChange struct {
	bucket     domain.Category
	op         domain.ChangeOp
	identifier string
}

// Backend is the slice of the backend the store talks to.
type Backend interface {
	FetchPreferences(ctx context.Context, userID string) ([]domain.PreferenceRow, error)
	MutatePreference(ctx context.Context, userID string, category domain.Category, identifier string, op domain.MutationOp) error
	FetchSaved(ctx context.Context, userID string) ([]string, error)
	MutateSaved(ctx context.Context, userID, offerID string, op domain.MutationOp) error
}

type Store struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.RWMutex
	userID  string
	sets    map[domain.Category]map[string]struct{}
	epoch   uint64
	loading bool
	lastErr error

	// remote changes received while a Load is in flight, replayed onto the
	// fetched rows before they are installed
	loads   int
	pending []remoteChange

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	listenersMu sync.Mutex
	listeners   map[uint64]func(domain.PreferenceSet)
	nextID      uint64
}

func NewStore(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend:   backend,
		logger:    logger,
		sets:      make(map[domain.Category]map[string]struct{}),
		keys:      make(map[string]*sync.Mutex),
		listeners: make(map[uint64]func(domain.PreferenceSet)),
	}
}

// Load replaces in-memory state with the backend's rows for userID. An empty
// userID clears the store. A failed fetch leaves the store empty and records
// the error; it is not returned. Remote changes that arrive during the fetch
// are applied on top of the fetched rows.
func (s *Store) Load(ctx context.Context, userID string) {
	if userID == "" {
		s.Clear()
		return
	}

	s.mu.Lock()
	s.userID = userID
	s.loading = true
	s.loads++
	s.mu.Unlock()

	sets := make(map[domain.Category]map[string]struct{})
	var loadErr error

	rows, err := s.backend.FetchPreferences(ctx, userID)
	if err == nil {
		for _, row := range rows {
			bucketOf(sets, row.Category)[row.Identifier] = struct{}{}
		}
		var saved []string
		saved, err = s.backend.FetchSaved(ctx, userID)
		for _, id := range saved {
			bucketOf(sets, savedBucket)[id] = struct{}{}
		}
	}
	if err != nil {
		s.logger.Warn("preference load failed, continuing with no preferences",
			slog.String("user_id", userID), slog.Any("error", err))
		loadErr = fmt.Errorf("%w: %w", domain.ErrPreferenceLoadFailed, err)
		sets = make(map[domain.Category]map[string]struct{})
	}

	s.mu.Lock()
	s.loads--
	if s.userID != userID {
		// signed out or switched user while loading
		if s.loads == 0 {
			s.pending = nil
		}
		s.mu.Unlock()
		return
	}
	for _, c := range s.pending {
		applyChange(sets, c)
	}
	if s.loads == 0 {
		s.pending = nil
	}
	s.sets = sets
	s.epoch++
	s.loading = s.loads > 0
	s.lastErr = loadErr
	s.mu.Unlock()

	s.notify()
}

// Clear discards all in-memory state, as on sign-out.
func (s *Store) Clear() {
	s.mu.Lock()
	s.userID = ""
	s.sets = make(map[domain.Category]map[string]struct{})
	s.epoch++
	s.loading = false
	s.lastErr = nil
	s.pending = nil
	s.mu.Unlock()

	s.notify()
}

// Toggle flips one identifier's membership in cat. The change is visible
// immediately; if the backend rejects it the change is rolled back and an
// error wrapping domain.ErrPreferenceWriteFailed is returned.
func (s *Store) Toggle(ctx context.Context, cat domain.Category, identifier string) error {
	if _, err := domain.ParseCategory(string(cat)); err != nil {
		return err
	}
	return s.toggle(ctx, cat, identifier)
}

// ToggleSaved flips whether offerID is saved, with the same discipline as Toggle.
func (s *Store) ToggleSaved(ctx context.Context, offerID string) error {
	return s.toggle(ctx, savedBucket, offerID)
}

func (s *Store) toggle(ctx context.Context, bucket domain.Category, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: empty identifier", domain.ErrInvalidIdentifier)
	}
	if s.UserID() == "" {
		return domain.ErrNoSession
	}

	unlock := s.lockKeys(bucket, []string{identifier})
	defer unlock()

	op := domain.OpAdd
	if s.has(bucket, identifier) {
		op = domain.OpRemove
	}
	m := &Mutation{s: s, bucket: bucket, writes: []write{{identifier: identifier, op: op}}}
	return s.run(ctx, m)
}

// ClearCategory removes every identifier in cat, stopping at the first failed
// delete. On failure the full pre-clear set is restored locally, though deletes
// that already committed stay committed until the next Load picks them up.
func (s *Store) ClearCategory(ctx context.Context, cat domain.Category) error {
	if _, err := domain.ParseCategory(string(cat)); err != nil {
		return err
	}
	if s.UserID() == "" {
		return domain.ErrNoSession
	}

	current := s.members(cat)
	if len(current) == 0 {
		return nil
	}
	unlock := s.lockKeys(cat, current)
	defer unlock()

	writes := make([]write, 0, len(current))
	for _, id := range s.members(cat) {
		if slices.Contains(current, id) {
			writes = append(writes, write{identifier: id, op: domain.OpRemove})
		}
	}
	if len(writes) == 0 {
		return nil
	}
	return s.run(ctx, &Mutation{s: s, bucket: cat, writes: writes})
}

// ApplyBulk makes cat equal ids. Additions and removals are all attempted;
// if any fails the store reloads from the backend instead of rolling back.
func (s *Store) ApplyBulk(ctx context.Context, cat domain.Category, ids []string) error {
	if _, err := domain.ParseCategory(string(cat)); err != nil {
		return err
	}
	userID := s.UserID()
	if userID == "" {
		return domain.ErrNoSession
	}

	want := dedupe(ids)
	current := s.members(cat)
	unlock := s.lockKeys(cat, union(current, want))
	defer unlock()

	current = s.members(cat)
	var writes []write
	for _, id := range want {
		if !slices.Contains(current, id) {
			writes = append(writes, write{identifier: id, op: domain.OpAdd})
		}
	}
	for _, id := range current {
		if !slices.Contains(want, id) {
			writes = append(writes, write{identifier: id, op: domain.OpRemove})
		}
	}
	if len(writes) == 0 {
		return nil
	}

	m := &Mutation{s: s, bucket: cat, writes: writes}
	m.Apply()

	var errs []error
	for _, w := range writes {
		err := s.send(ctx, cat, w)
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	err := fmt.Errorf("%w: %w", domain.ErrPreferenceWriteFailed, errors.Join(errs...))
	s.logger.Warn("bulk preference update failed, reloading",
		slog.String("user_id", userID), slog.String("category", string(cat)), slog.Any("error", err))
	s.Load(ctx, userID)
	s.setLastErr(err)
	return err
}

// ApplyRemote merges a change made elsewhere. Inserts of present identifiers
// and deletes of absent ones are no-ops, as are events for other users.
func (s *Store) ApplyRemote(evt domain.ChangeEvent) {
	bucket := evt.Category
	if evt.Kind == domain.KindSaved {
		bucket = savedBucket
	} else if _, err := domain.ParseCategory(string(bucket)); err != nil {
		s.logger.Warn("ignoring change with unknown category", slog.String("category", string(bucket)))
		return
	}

	c := remoteChange{bucket: bucket, op: evt.Op, identifier: evt.Identifier}

	s.mu.Lock()
	if evt.UserID != s.userID || s.userID == "" {
		s.mu.Unlock()
		return
	}
	if s.loads > 0 {
		s.pending = append(s.pending, c)
	}
	changed := applyChange(s.sets, c)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Snapshot returns the current preference sets, each sorted.
func (s *Store) Snapshot() domain.PreferenceSet {
	return domain.PreferenceSet{
		Stores: s.members(domain.CategoryStores),
		Brands: s.members(domain.CategoryBrands),
		Banks:  s.members(domain.CategoryBanks),
	}
}

// SavedOfferIDs returns the saved offer IDs, sorted.
func (s *Store) SavedOfferIDs() []string {
	return s.members(savedBucket)
}

func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// LastError returns the most recent load or write failure, or nil.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// OnChange registers fn to run after every visible state change.
func (s *Store) OnChange(fn func(domain.PreferenceSet)) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) run(ctx context.Context, m *Mutation) error {
	m.Apply()
	if err := m.Commit(ctx); err != nil {
		m.Rollback()
		err = fmt.Errorf("%w: %w", domain.ErrPreferenceWriteFailed, err)
		s.logger.Warn("preference write rolled back",
			slog.String("bucket", string(m.bucket)),
			slog.Any("identifiers", m.Identifiers()),
			slog.Any("error", err))
		s.setLastErr(err)
		return err
	}
	return nil
}

func (s *Store) send(ctx context.Context, bucket domain.Category, w write) error {
	userID := s.UserID()
	if userID == "" {
		return domain.ErrNoSession
	}
	if bucket == savedBucket {
		return s.backend.MutateSaved(ctx, userID, w.identifier, w.op)
	}
	return s.backend.MutatePreference(ctx, userID, bucket, w.identifier, w.op)
}

func (s *Store) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Store) has(bucket domain.Category, identifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sets[bucket][identifier]
	return ok
}

func (s *Store) members(bucket domain.Category) []string {
	s.mu.RLock()
	set := s.sets[bucket]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// bucketLocked must be called with s.mu held for writing.
func (s *Store) bucketLocked(bucket domain.Category) map[string]struct{} {
	return bucketOf(s.sets, bucket)
}

// lockKeys serializes mutations per identifier. Keys are taken in sorted
// order so multi-key callers cannot deadlock each other.
func (s *Store) lockKeys(bucket domain.Category, ids []string) (unlock func()) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	s.keysMu.Lock()
	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		k := string(bucket) + "\x00" + id
		l, ok := s.keys[k]
		if !ok {
			l = &sync.Mutex{}
			s.keys[k] = l
		}
		locks = append(locks, l)
	}
	s.keysMu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (s *Store) notify() {
	snap := s.Snapshot()

	s.listenersMu.Lock()
	fns := make([]func(domain.PreferenceSet), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func bucketOf(sets map[domain.Category]map[string]struct{}, bucket domain.Category) map[string]struct{} {
	set, ok := sets[bucket]
	if !ok {
		set = make(map[string]struct{})
		sets[bucket] = set
	}
	return set
}

// applyChange reports whether c altered sets.
func applyChange(sets map[domain.Category]map[string]struct{}, c remoteChange) bool {
	set := bucketOf(sets, c.bucket)
	_, had := set[c.identifier]
	switch c.op {
	case domain.ChangeInsert:
		if !had {
			set[c.identifier] = struct{}{}
			return true
		}
	case domain.ChangeDelete:
		if had {
			delete(set, c.identifier)
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func union(a, b []string) []string {
	return dedupe(append(append([]string(nil), a...), b...))
}
