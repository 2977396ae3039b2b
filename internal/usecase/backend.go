package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/notify"
	"github.com/azizikri/offer-feed/internal/repository"
	"github.com/google/uuid"
)

type BackendService struct {
	store      repository.Store
	publisher  ChangePublisher
	subscriber notify.Subscriber[domain.ChangeEvent]
	logger     *slog.Logger
	now        func() time.Time
}

func NewBackendService(store repository.Store, publisher ChangePublisher, subscriber notify.Subscriber[domain.ChangeEvent], logger *slog.Logger) *BackendService {
	return &BackendService{
		store:      store,
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *BackendService) FetchCatalog(ctx context.Context) ([]domain.Offer, error) {
	offers, err := s.store.ListOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	return offers, nil
}

func (s *BackendService) FetchFlashDeals(ctx context.Context) ([]domain.Offer, error) {
	offers, err := s.store.ListFlashDeals(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch flash deals: %w", err)
	}
	return offers, nil
}

func (s *BackendService) FetchPreferences(ctx context.Context, userID string) ([]domain.PreferenceRow, error) {
	rows, err := s.store.ListPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}
	return rows, nil
}

func (s *BackendService) FetchSaved(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.store.ListSaved(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch saved offers: %w", err)
	}
	return ids, nil
}

// MutatePreference inserts or deletes one preference row. Adding a present row
// returns domain.ErrAlreadyExists, removing an absent one domain.ErrNotFound;
// neither publishes a change.
func (s *BackendService) MutatePreference(ctx context.Context, userID string, category domain.Category, identifier string, op domain.MutationOp) error {
	if _, err := domain.ParseCategory(string(category)); err != nil {
		return err
	}

	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var (
			n   int64
			err error
		)
		if op == domain.OpRemove {
			n, err = q.DeletePreference(ctx, userID, category, identifier)
		} else {
			n, err = q.InsertPreference(ctx, userID, category, identifier)
		}
		if err != nil {
			return err
		}
		return rowsResult(n, op)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, domain.ChangeEvent{
		UserID:     userID,
		Kind:       domain.KindPreference,
		Op:         domain.ChangeOpFor(op),
		Category:   category,
		Identifier: identifier,
	})
	return nil
}

// MutateSaved inserts or deletes one saved-offer row, with the same result
// conventions as MutatePreference.
func (s *BackendService) MutateSaved(ctx context.Context, userID, offerID string, op domain.MutationOp) error {
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var (
			n   int64
			err error
		)
		if op == domain.OpRemove {
			n, err = q.DeleteSaved(ctx, userID, offerID)
		} else {
			n, err = q.InsertSaved(ctx, userID, offerID)
		}
		if err != nil {
			return err
		}
		return rowsResult(n, op)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, domain.ChangeEvent{
		UserID:     userID,
		Kind:       domain.KindSaved,
		Op:         domain.ChangeOpFor(op),
		Identifier: offerID,
	})
	return nil
}

func (s *BackendService) Subscribe(userID string, fn func(domain.ChangeEvent), onDrop func(error)) func() {
	return s.subscriber.Subscribe(userID, fn, onDrop)
}

// publish failures are logged only: the row is already committed and the
// writer's own state already reflects it.
func (s *BackendService) publish(ctx context.Context, evt domain.ChangeEvent) {
	evt.ID = uuid.New().String()
	evt.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error("failed to publish change",
			slog.String("user_id", evt.UserID),
			slog.String("kind", string(evt.Kind)),
			slog.String("identifier", evt.Identifier),
			slog.Any("error", err))
	}
}

func rowsResult(n int64, op domain.MutationOp) error {
	if n > 0 {
		return nil
	}
	if op == domain.OpRemove {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyExists
}

var _ Backend = (*BackendService)(nil)
