package usecase

import (
	"context"

	"github.com/azizikri/offer-feed/internal/domain"
)

// Backend is the storefront backend as the client state layer sees it: an
// opaque row store plus a per-user change subscription.
type Backend interface {
	FetchCatalog(ctx context.Context) ([]domain.Offer, error)
	FetchFlashDeals(ctx context.Context) ([]domain.Offer, error)
	FetchPreferences(ctx context.Context, userID string) ([]domain.PreferenceRow, error)
	MutatePreference(ctx context.Context, userID string, category domain.Category, identifier string, op domain.MutationOp) error
	FetchSaved(ctx context.Context, userID string) ([]string, error)
	MutateSaved(ctx context.Context, userID, offerID string, op domain.MutationOp) error
	Subscribe(userID string, fn func(domain.ChangeEvent), onDrop func(error)) (unsubscribe func())
}

// ChangePublisher announces a committed row change.
type ChangePublisher interface {
	Publish(ctx context.Context, evt domain.ChangeEvent) error
}
