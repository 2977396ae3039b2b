package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azizikri/offer-feed/internal/catalog"
	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/notify"
	"github.com/azizikri/offer-feed/internal/preference"
)

type mockBackend struct {
	mu sync.Mutex

	fetchCatalogFn     func(ctx context.Context) ([]domain.Offer, error)
	fetchFlashDealsFn  func(ctx context.Context) ([]domain.Offer, error)
	fetchPreferencesFn func(ctx context.Context, userID string) ([]domain.PreferenceRow, error)
	mutatePreferenceFn func(ctx context.Context, userID string, cat domain.Category, id string, op domain.MutationOp) error

	writes int
}

func (m *mockBackend) FetchCatalog(ctx context.Context) ([]domain.Offer, error) {
	if m.fetchCatalogFn != nil {
		return m.fetchCatalogFn(ctx)
	}
	return nil, nil
}

func (m *mockBackend) FetchFlashDeals(ctx context.Context) ([]domain.Offer, error) {
	if m.fetchFlashDealsFn != nil {
		return m.fetchFlashDealsFn(ctx)
	}
	return nil, nil
}

func (m *mockBackend) FetchPreferences(ctx context.Context, userID string) ([]domain.PreferenceRow, error) {
	if m.fetchPreferencesFn != nil {
		return m.fetchPreferencesFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockBackend) MutatePreference(ctx context.Context, userID string, cat domain.Category, id string, op domain.MutationOp) error {
	m.mu.Lock()
	m.writes++
	m.mu.Unlock()
	if m.mutatePreferenceFn != nil {
		return m.mutatePreferenceFn(ctx, userID, cat, id, op)
	}
	return nil
}

func (m *mockBackend) FetchSaved(context.Context, string) ([]string, error) { return nil, nil }

func (m *mockBackend) MutateSaved(context.Context, string, string, domain.MutationOp) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var twoOffers = []domain.Offer{
	{ID: "1", Title: "Big TV sale", Store: "Amazon", Category: "Electronics"},
	{ID: "2", Title: "Running shoes", Store: "Nike", Category: "Fashion"},
}

func offerIDs(offers []domain.Offer) []string {
	out := make([]string, 0, len(offers))
	for _, o := range offers {
		out = append(out, o.ID)
	}
	return out
}

func newFixture(t *testing.T, backend *mockBackend) (*catalog.Repository, *preference.Store, *Controller) {
	t.Helper()
	if backend.fetchCatalogFn == nil {
		backend.fetchCatalogFn = func(context.Context) ([]domain.Offer, error) { return twoOffers, nil }
	}
	repo := catalog.NewRepository(backend, testLogger())
	repo.Load(context.Background())
	prefs := preference.NewStore(backend, testLogger())
	prefs.Load(context.Background(), "user1")
	c := NewController(repo, prefs, 10*time.Millisecond, testLogger())
	t.Cleanup(c.Close)
	return repo, prefs, c
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name  string
		prefs domain.PreferenceSet
		term  string
		want  []string
	}{
		{name: "no preferences", want: []string{"1", "2"}},
		{name: "store match", prefs: domain.PreferenceSet{Stores: []string{"amazon"}}, want: []string{"1"}},
		{name: "no match falls back to catalog", prefs: domain.PreferenceSet{Stores: []string{"walmart"}}, want: []string{"1", "2"}},
		{name: "search narrows", term: "shoes", want: []string{"2"}},
		{name: "search narrows personalized feed", prefs: domain.PreferenceSet{Stores: []string{"amazon"}}, term: "shoes", want: []string{}},
		{name: "search narrows fallback feed", prefs: domain.PreferenceSet{Stores: []string{"walmart"}}, term: "TV", want: []string{"1"}},
		{name: "blank search is ignored", term: "   ", want: []string{"1", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := offerIDs(Compose(twoOffers, tt.prefs, tt.term))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compose() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestController_RecomputesOnPreferenceChange(t *testing.T) {
	backend := &mockBackend{}
	_, prefs, c := newFixture(t, backend)
	require.Equal(t, []string{"1", "2"}, offerIDs(c.Feed()))

	var feeds [][]string
	c.OnFeedChange(func(f []domain.Offer) { feeds = append(feeds, offerIDs(f)) })

	require.NoError(t, prefs.Toggle(context.Background(), domain.CategoryStores, "amazon"))
	assert.Equal(t, []string{"1"}, offerIDs(c.Feed()))

	require.NoError(t, prefs.Toggle(context.Background(), domain.CategoryStores, "amazon"))
	assert.Equal(t, []string{"1", "2"}, offerIDs(c.Feed()))

	assert.Equal(t, [][]string{{"1"}, {"1", "2"}}, feeds)
}

func TestController_RollbackRestoresFeed(t *testing.T) {
	backend := &mockBackend{
		mutatePreferenceFn: func(context.Context, string, domain.Category, string, domain.MutationOp) error {
			return errors.New("rejected")
		},
	}
	_, prefs, c := newFixture(t, backend)

	err := prefs.Toggle(context.Background(), domain.CategoryStores, "nike")
	require.ErrorIs(t, err, domain.ErrPreferenceWriteFailed)

	assert.Equal(t, []string{"1", "2"}, offerIDs(c.Feed()))
	assert.ErrorIs(t, c.Status().LastError(), domain.ErrPreferenceWriteFailed)
}

func TestController_RecomputesOnCatalogRefresh(t *testing.T) {
	calls := 0
	backend := &mockBackend{}
	backend.fetchCatalogFn = func(context.Context) ([]domain.Offer, error) {
		calls++
		if calls == 1 {
			return twoOffers[:1], nil
		}
		return twoOffers, nil
	}
	repo, prefs, c := newFixture(t, backend)
	require.NoError(t, prefs.Toggle(context.Background(), domain.CategoryStores, "nike"))
	assert.Equal(t, []string{"1"}, offerIDs(c.Feed()), "no nike offers yet, falls back")

	repo.Refresh(context.Background())
	assert.Equal(t, []string{"2"}, offerIDs(c.Feed()))
}

func TestController_SearchIsDebounced(t *testing.T) {
	_, _, c := newFixture(t, &mockBackend{})

	var mu sync.Mutex
	recomputes := 0
	c.OnFeedChange(func([]domain.Offer) {
		mu.Lock()
		recomputes++
		mu.Unlock()
	})

	c.SetSearchTerm("s")
	c.SetSearchTerm("sh")
	c.SetSearchTerm("shoes")
	assert.Equal(t, "shoes", c.PendingSearchTerm())
	assert.Empty(t, c.CommittedSearchTerm())
	assert.Equal(t, []string{"1", "2"}, offerIDs(c.Feed()))

	require.Eventually(t, func() bool { return c.CommittedSearchTerm() == "shoes" }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, []string{"2"}, offerIDs(c.Feed()))
	mu.Lock()
	assert.Equal(t, 1, recomputes)
	mu.Unlock()
}

func TestController_StatusReportsCatalogFallback(t *testing.T) {
	backend := &mockBackend{
		fetchCatalogFn: func(context.Context) ([]domain.Offer, error) { return nil, errors.New("offline") },
	}
	_, _, c := newFixture(t, backend)

	assert.Len(t, c.Feed(), len(catalog.MockCatalog()))
	st := c.Status()
	assert.False(t, st.IsLoading)
	assert.ErrorIs(t, st.LastError(), domain.ErrCatalogUnavailable)
	assert.NotEmpty(t, c.Counts().Stores)
}

func TestController_CloseDetaches(t *testing.T) {
	repo, prefs, c := newFixture(t, &mockBackend{})
	c.Close()

	require.NoError(t, prefs.Toggle(context.Background(), domain.CategoryStores, "amazon"))
	repo.Refresh(context.Background())

	assert.Equal(t, []string{"1", "2"}, offerIDs(c.Feed()))
}

func TestListener_AppliesRemoteChanges(t *testing.T) {
	hub := notify.NewHub[domain.ChangeEvent](testLogger())
	_, prefs, c := newFixture(t, &mockBackend{})
	l := NewListener(hub, prefs, testLogger())
	l.Attach("user1")
	t.Cleanup(l.Detach)

	insert := domain.ChangeEvent{UserID: "user1", Kind: domain.KindPreference, Op: domain.ChangeInsert,
		Category: domain.CategoryStores, Identifier: "Amazon"}
	hub.Emit("user1", insert)
	hub.Emit("user1", insert)
	assert.Equal(t, []string{"Amazon"}, prefs.Snapshot().Stores)
	assert.Equal(t, []string{"1"}, offerIDs(c.Feed()))

	del := insert
	del.Op = domain.ChangeDelete
	hub.Emit("user1", del)
	assert.Empty(t, prefs.Snapshot().Stores)
	assert.Equal(t, []string{"1", "2"}, offerIDs(c.Feed()))

	hub.Emit("user2", insert)
	assert.Empty(t, prefs.Snapshot().Stores)
}

func TestListener_DetachAndDrop(t *testing.T) {
	hub := notify.NewHub[domain.ChangeEvent](testLogger())
	_, prefs, _ := newFixture(t, &mockBackend{})
	l := NewListener(hub, prefs, testLogger())

	l.Attach("user1")
	l.Attach("user1")
	assert.Equal(t, 1, hub.Count("user1"), "re-attaching must not leak a subscription")

	l.Detach()
	l.Detach()
	assert.Equal(t, 0, hub.Count("user1"))
	assert.False(t, l.Attached())

	l.Attach("user1")
	hub.DropAll(errors.New("broker closed"))
	assert.ErrorIs(t, l.LastError(), domain.ErrSubscriptionDropped)
	assert.False(t, l.Attached())
}
