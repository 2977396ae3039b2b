package preference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azizikri/offer-feed/internal/domain"
)

type mutation struct {
	Category   domain.Category
	Identifier string
	Op         domain.MutationOp
}

type mockBackend struct {
	mu sync.Mutex

	fetchPreferencesFn func(ctx context.Context, userID string) ([]domain.PreferenceRow, error)
	mutatePreferenceFn func(ctx context.Context, userID string, cat domain.Category, id string, op domain.MutationOp) error
	fetchSavedFn       func(ctx context.Context, userID string) ([]string, error)
	mutateSavedFn      func(ctx context.Context, userID, offerID string, op domain.MutationOp) error

	mutations []mutation
}

func (m *mockBackend) FetchPreferences(ctx context.Context, userID string) ([]domain.PreferenceRow, error) {
	if m.fetchPreferencesFn != nil {
		return m.fetchPreferencesFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockBackend) MutatePreference(ctx context.Context, userID string, cat domain.Category, id string, op domain.MutationOp) error {
	m.mu.Lock()
	m.mutations = append(m.mutations, mutation{cat, id, op})
	m.mu.Unlock()
	if m.mutatePreferenceFn != nil {
		return m.mutatePreferenceFn(ctx, userID, cat, id, op)
	}
	return nil
}

func (m *mockBackend) FetchSaved(ctx context.Context, userID string) ([]string, error) {
	if m.fetchSavedFn != nil {
		return m.fetchSavedFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockBackend) MutateSaved(ctx context.Context, userID, offerID string, op domain.MutationOp) error {
	m.mu.Lock()
	m.mutations = append(m.mutations, mutation{savedBucket, offerID, op})
	m.mu.Unlock()
	if m.mutateSavedFn != nil {
		return m.mutateSavedFn(ctx, userID, offerID, op)
	}
	return nil
}

func (m *mockBackend) recorded() []mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mutation(nil), m.mutations...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadedStore(t *testing.T, backend *mockBackend, rows ...domain.PreferenceRow) *Store {
	t.Helper()
	backend.fetchPreferencesFn = func(context.Context, string) ([]domain.PreferenceRow, error) {
		return rows, nil
	}
	s := NewStore(backend, testLogger())
	s.Load(context.Background(), "user1")
	require.NoError(t, s.LastError())
	return s
}

func TestLoad(t *testing.T) {
	backend := &mockBackend{
		fetchSavedFn: func(context.Context, string) ([]string, error) { return []string{"offer-9"}, nil },
	}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Nike"},
		domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Amazon"},
		domain.PreferenceRow{Category: domain.CategoryBanks, Identifier: "HDFC"},
		domain.PreferenceRow{Category: domain.CategoryBanks, Identifier: "HDFC"},
	)

	assert.Equal(t, domain.PreferenceSet{
		Stores: []string{"Amazon", "Nike"},
		Brands: []string{},
		Banks:  []string{"HDFC"},
	}, s.Snapshot())
	assert.Equal(t, []string{"offer-9"}, s.SavedOfferIDs())
	assert.False(t, s.IsLoading())
	assert.Equal(t, "user1", s.UserID())
}

func TestLoad_NoSessionClears(t *testing.T) {
	s := loadedStore(t, &mockBackend{}, domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Nike"})

	s.Load(context.Background(), "")

	assert.True(t, s.Snapshot().IsEmpty())
	assert.Empty(t, s.UserID())
}

func TestLoad_FailureIsFailOpen(t *testing.T) {
	backend := &mockBackend{
		fetchPreferencesFn: func(context.Context, string) ([]domain.PreferenceRow, error) {
			return nil, errors.New("db down")
		},
	}
	s := NewStore(backend, testLogger())

	s.Load(context.Background(), "user1")

	assert.True(t, s.Snapshot().IsEmpty())
	assert.ErrorIs(t, s.LastError(), domain.ErrPreferenceLoadFailed)
	assert.False(t, s.IsLoading())
}

func TestToggle_AddsThenRemoves(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)
	ctx := context.Background()

	require.NoError(t, s.Toggle(ctx, domain.CategoryStores, "Nike"))
	assert.Equal(t, []string{"Nike"}, s.Snapshot().Stores)

	require.NoError(t, s.Toggle(ctx, domain.CategoryStores, "Nike"))
	assert.Empty(t, s.Snapshot().Stores)

	assert.Equal(t, []mutation{
		{domain.CategoryStores, "Nike", domain.OpAdd},
		{domain.CategoryStores, "Nike", domain.OpRemove},
	}, backend.recorded())
}

func TestToggle_OptimisticBeforeBackend(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)

	var seenDuringWrite []string
	backend.mutatePreferenceFn = func(context.Context, string, domain.Category, string, domain.MutationOp) error {
		seenDuringWrite = s.Snapshot().Brands
		return nil
	}

	require.NoError(t, s.Toggle(context.Background(), domain.CategoryBrands, "Fashion"))
	assert.Equal(t, []string{"Fashion"}, seenDuringWrite)
}

func TestToggle_RollbackOnFailure(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Amazon"},
	)
	before := s.Snapshot()
	backend.mutatePreferenceFn = func(context.Context, string, domain.Category, string, domain.MutationOp) error {
		return errors.New("503")
	}

	var changes []domain.PreferenceSet
	s.OnChange(func(p domain.PreferenceSet) { changes = append(changes, p) })

	err := s.Toggle(context.Background(), domain.CategoryStores, "Nike")
	require.ErrorIs(t, err, domain.ErrPreferenceWriteFailed)
	assert.Equal(t, before, s.Snapshot())
	assert.ErrorIs(t, s.LastError(), domain.ErrPreferenceWriteFailed)

	require.Len(t, changes, 2, "apply and rollback should both notify")
	assert.Equal(t, []string{"Amazon", "Nike"}, changes[0].Stores)
	assert.Equal(t, []string{"Amazon"}, changes[1].Stores)

	err = s.Toggle(context.Background(), domain.CategoryStores, "Amazon")
	require.Error(t, err)
	assert.Equal(t, before, s.Snapshot())
}

func TestToggle_AlreadyPresentIsSuccess(t *testing.T) {
	backend := &mockBackend{
		mutatePreferenceFn: func(_ context.Context, _ string, _ domain.Category, _ string, op domain.MutationOp) error {
			if op == domain.OpAdd {
				return fmt.Errorf("insert: %w", domain.ErrAlreadyExists)
			}
			return domain.ErrNotFound
		},
	}
	s := loadedStore(t, backend)
	ctx := context.Background()

	require.NoError(t, s.Toggle(ctx, domain.CategoryBanks, "SBI"))
	assert.Equal(t, []string{"SBI"}, s.Snapshot().Banks)
	require.NoError(t, s.Toggle(ctx, domain.CategoryBanks, "SBI"))
	assert.Empty(t, s.Snapshot().Banks)
}

func TestToggle_InvalidInput(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)

	assert.ErrorIs(t, s.Toggle(context.Background(), "colors", "red"), domain.ErrInvalidCategory)
	assert.ErrorIs(t, s.Toggle(context.Background(), domain.CategoryStores, "   "), domain.ErrInvalidIdentifier)
	assert.ErrorIs(t, s.ToggleSaved(context.Background(), ""), domain.ErrInvalidIdentifier)
	assert.Empty(t, backend.recorded())

	signedOut := NewStore(backend, testLogger())
	assert.ErrorIs(t, signedOut.Toggle(context.Background(), domain.CategoryStores, "Nike"), domain.ErrNoSession)
}

func TestToggle_SameIdentifierSerialized(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)

	var inflight, maxInflight int
	var mu sync.Mutex
	backend.mutatePreferenceFn = func(context.Context, string, domain.Category, string, domain.MutationOp) error {
		mu.Lock()
		inflight++
		maxInflight = max(maxInflight, inflight)
		mu.Unlock()
		mu.Lock()
		inflight--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Toggle(context.Background(), domain.CategoryStores, "Nike")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInflight)
	assert.Empty(t, s.Snapshot().Stores, "an even number of toggles returns to the start")

	muts := backend.recorded()
	require.Len(t, muts, 10)
	for i, m := range muts {
		want := domain.OpAdd
		if i%2 == 1 {
			want = domain.OpRemove
		}
		assert.Equal(t, want, m.Op, "mutation %d", i)
	}
}

func TestToggle_IndependentRollbackAcrossIdentifiers(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)

	nikeStarted := make(chan struct{})
	releaseNike := make(chan struct{})
	backend.mutatePreferenceFn = func(_ context.Context, _ string, _ domain.Category, id string, _ domain.MutationOp) error {
		if id == "Nike" {
			close(nikeStarted)
			<-releaseNike
			return errors.New("rejected")
		}
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Toggle(context.Background(), domain.CategoryStores, "Nike") }()
	<-nikeStarted

	require.NoError(t, s.Toggle(context.Background(), domain.CategoryStores, "Amazon"))
	assert.Equal(t, []string{"Amazon", "Nike"}, s.Snapshot().Stores)

	close(releaseNike)
	require.ErrorIs(t, <-errCh, domain.ErrPreferenceWriteFailed)
	assert.Equal(t, []string{"Amazon"}, s.Snapshot().Stores)
}

func TestClearCategory(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryBrands, Identifier: "Fashion"},
		domain.PreferenceRow{Category: domain.CategoryBrands, Identifier: "Food"},
		domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Nike"},
	)

	require.NoError(t, s.ClearCategory(context.Background(), domain.CategoryBrands))

	snap := s.Snapshot()
	assert.Empty(t, snap.Brands)
	assert.Equal(t, []string{"Nike"}, snap.Stores)
	assert.Len(t, backend.recorded(), 2)
}

func TestClearCategory_RollbackRestoresFullSet(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryBrands, Identifier: "Fashion"},
		domain.PreferenceRow{Category: domain.CategoryBrands, Identifier: "Food"},
		domain.PreferenceRow{Category: domain.CategoryBrands, Identifier: "Travel"},
	)
	backend.mutatePreferenceFn = func(_ context.Context, _ string, _ domain.Category, id string, _ domain.MutationOp) error {
		if id == "Food" {
			return errors.New("timeout")
		}
		return nil
	}

	err := s.ClearCategory(context.Background(), domain.CategoryBrands)

	require.ErrorIs(t, err, domain.ErrPreferenceWriteFailed)
	assert.Equal(t, []string{"Fashion", "Food", "Travel"}, s.Snapshot().Brands)
}

func TestClearCategory_EmptyIsNoop(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)

	require.NoError(t, s.ClearCategory(context.Background(), domain.CategoryBanks))
	assert.Empty(t, backend.recorded())
}

func TestApplyBulk(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Amazon"},
		domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Nike"},
	)

	err := s.ApplyBulk(context.Background(), domain.CategoryStores, []string{"Nike", "Myntra", "Myntra", " "})
	require.NoError(t, err)

	assert.Equal(t, []string{"Myntra", "Nike"}, s.Snapshot().Stores)
	assert.ElementsMatch(t, []mutation{
		{domain.CategoryStores, "Myntra", domain.OpAdd},
		{domain.CategoryStores, "Amazon", domain.OpRemove},
	}, backend.recorded())
}

func TestApplyBulk_PartialFailureReloads(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryStores, Identifier: "Amazon"},
	)

	// the backend accepted the add but not the remove
	backend.fetchPreferencesFn = func(context.Context, string) ([]domain.PreferenceRow, error) {
		return []domain.PreferenceRow{
			{Category: domain.CategoryStores, Identifier: "Amazon"},
			{Category: domain.CategoryStores, Identifier: "Nike"},
		}, nil
	}
	backend.mutatePreferenceFn = func(_ context.Context, _ string, _ domain.Category, _ string, op domain.MutationOp) error {
		if op == domain.OpRemove {
			return errors.New("conflict")
		}
		return nil
	}

	err := s.ApplyBulk(context.Background(), domain.CategoryStores, []string{"Nike"})

	require.ErrorIs(t, err, domain.ErrPreferenceWriteFailed)
	assert.Equal(t, []string{"Amazon", "Nike"}, s.Snapshot().Stores)
	assert.ErrorIs(t, s.LastError(), domain.ErrPreferenceWriteFailed)
}

func TestApplyBulk_NoChangesIsNoop(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryBanks, Identifier: "HDFC"},
	)

	require.NoError(t, s.ApplyBulk(context.Background(), domain.CategoryBanks, []string{"HDFC"}))
	assert.Empty(t, backend.recorded())
}

func TestToggleSaved(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)

	require.NoError(t, s.ToggleSaved(context.Background(), "offer-1"))
	assert.Equal(t, []string{"offer-1"}, s.SavedOfferIDs())
	assert.True(t, s.Snapshot().IsEmpty(), "saved offers are not preferences")

	backend.mutateSavedFn = func(context.Context, string, string, domain.MutationOp) error {
		return errors.New("nope")
	}
	require.Error(t, s.ToggleSaved(context.Background(), "offer-1"))
	assert.Equal(t, []string{"offer-1"}, s.SavedOfferIDs())
}

func TestApplyRemote_Idempotent(t *testing.T) {
	s := loadedStore(t, &mockBackend{})

	changes := 0
	s.OnChange(func(domain.PreferenceSet) { changes++ })

	insert := domain.ChangeEvent{UserID: "user1", Kind: domain.KindPreference, Op: domain.ChangeInsert,
		Category: domain.CategoryBanks, Identifier: "Axis"}
	remove := insert
	remove.Op = domain.ChangeDelete

	s.ApplyRemote(insert)
	s.ApplyRemote(insert)
	assert.Equal(t, []string{"Axis"}, s.Snapshot().Banks)

	s.ApplyRemote(remove)
	s.ApplyRemote(remove)
	assert.Empty(t, s.Snapshot().Banks)
	assert.Equal(t, 2, changes)

	s.ApplyRemote(domain.ChangeEvent{UserID: "user1", Kind: domain.KindSaved, Op: domain.ChangeInsert, Identifier: "offer-3"})
	assert.Equal(t, []string{"offer-3"}, s.SavedOfferIDs())
}

func TestApplyRemote_IgnoresOtherUsersAndBadCategories(t *testing.T) {
	s := loadedStore(t, &mockBackend{})

	s.ApplyRemote(domain.ChangeEvent{UserID: "user2", Kind: domain.KindPreference, Op: domain.ChangeInsert,
		Category: domain.CategoryStores, Identifier: "Nike"})
	s.ApplyRemote(domain.ChangeEvent{UserID: "user1", Kind: domain.KindPreference, Op: domain.ChangeInsert,
		Category: "colors", Identifier: "red"})

	assert.True(t, s.Snapshot().IsEmpty())
}

func TestClear_PreventsLateRollback(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend)

	started := make(chan struct{})
	release := make(chan struct{})
	backend.mutatePreferenceFn = func(context.Context, string, domain.Category, string, domain.MutationOp) error {
		close(started)
		<-release
		return errors.New("late failure")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Toggle(context.Background(), domain.CategoryStores, "Nike") }()
	<-started

	s.Clear()
	s.ApplyRemote(domain.ChangeEvent{UserID: "", Kind: domain.KindPreference, Op: domain.ChangeInsert,
		Category: domain.CategoryStores, Identifier: "x"})
	close(release)

	require.Error(t, <-errCh)
	assert.True(t, s.Snapshot().IsEmpty())
	assert.Empty(t, s.UserID())
}

func TestLoad_KeepsRemoteChangesDuringFetch(t *testing.T) {
	backend := &mockBackend{}
	s := NewStore(backend, testLogger())

	backend.fetchPreferencesFn = func(context.Context, string) ([]domain.PreferenceRow, error) {
		s.ApplyRemote(domain.ChangeEvent{UserID: "user1", Kind: domain.KindPreference, Op: domain.ChangeInsert,
			Category: domain.CategoryStores, Identifier: "nike"})
		s.ApplyRemote(domain.ChangeEvent{UserID: "user1", Kind: domain.KindPreference, Op: domain.ChangeDelete,
			Category: domain.CategoryBanks, Identifier: "HDFC"})
		return []domain.PreferenceRow{
			{Category: domain.CategoryStores, Identifier: "amazon"},
			{Category: domain.CategoryBanks, Identifier: "HDFC"},
		}, nil
	}
	backend.fetchSavedFn = func(context.Context, string) ([]string, error) {
		s.ApplyRemote(domain.ChangeEvent{UserID: "user1", Kind: domain.KindSaved, Op: domain.ChangeInsert, Identifier: "offer-9"})
		return nil, nil
	}

	s.Load(context.Background(), "user1")

	snap := s.Snapshot()
	assert.Equal(t, []string{"amazon", "nike"}, snap.Stores)
	assert.Empty(t, snap.Banks)
	assert.Equal(t, []string{"offer-9"}, s.SavedOfferIDs())
	assert.False(t, s.IsLoading())

	// nothing is replayed on the next load
	backend.fetchPreferencesFn = nil
	backend.fetchSavedFn = nil
	s.Load(context.Background(), "user1")
	assert.True(t, s.Snapshot().IsEmpty())
	assert.Empty(t, s.SavedOfferIDs())
}

func TestClearCategory_PartialCommitRestoresLocally(t *testing.T) {
	backend := &mockBackend{}
	s := loadedStore(t, backend,
		domain.PreferenceRow{Category: domain.CategoryBrands, Identifier: "Fashion"},
		domain.PreferenceRow{Category: domain.CategoryBrands, Identifier: "Food"},
	)
	backend.mutatePreferenceFn = func(_ context.Context, _ string, _ domain.Category, id string, _ domain.MutationOp) error {
		if id == "Food" {
			return errors.New("timeout")
		}
		return nil
	}

	require.Error(t, s.ClearCategory(context.Background(), domain.CategoryBrands))

	// Fashion's delete committed; memory keeps it until its echo or the next load
	assert.Contains(t, backend.recorded(), mutation{domain.CategoryBrands, "Fashion", domain.OpRemove})
	assert.Equal(t, []string{"Fashion", "Food"}, s.Snapshot().Brands)

	s.ApplyRemote(domain.ChangeEvent{UserID: "user1", Kind: domain.KindPreference, Op: domain.ChangeDelete,
		Category: domain.CategoryBrands, Identifier: "Fashion"})
	assert.Equal(t, []string{"Food"}, s.Snapshot().Brands)
}
