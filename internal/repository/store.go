package repository

import (
	"context"
	"fmt"

	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	ExecTx(ctx context.Context, fn func(Querier) error) error
	ListOffers(ctx context.Context) ([]domain.Offer, error)
	ListFlashDeals(ctx context.Context) ([]domain.Offer, error)
	ListPreferences(ctx context.Context, userID string) ([]domain.PreferenceRow, error)
	ListSaved(ctx context.Context, userID string) ([]string, error)
}

// Querier holds the row writes. Each returns the number of rows affected so
// callers can tell a no-op insert or delete from a real one.
type Querier interface {
	InsertPreference(ctx context.Context, userID string, category domain.Category, identifier string) (int64, error)
	DeletePreference(ctx context.Context, userID string, category domain.Category, identifier string) (int64, error)
	InsertSaved(ctx context.Context, userID, offerID string) (int64, error)
	DeleteSaved(ctx context.Context, userID, offerID string) (int64, error)
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type store struct {
	pool    *pgxpool.Pool
	queries *queries
}

func New(pool *pgxpool.Pool) Store {
	return &store{
		pool:    pool,
		queries: &queries{db: pool},
	}
}

func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	q := s.queries.withTx(tx)
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const offerColumns = `id, title, description, long_description, terms, store, category,
	discount_value, cashback_rate, min_order_value, code, status, starts_at, ends_at,
	featured, sponsored, redirect_url`

func (s *store) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	return s.queries.listOffers(ctx, `SELECT `+offerColumns+` FROM offers
		ORDER BY featured DESC, starts_at DESC, id`)
}

func (s *store) ListFlashDeals(ctx context.Context) ([]domain.Offer, error) {
	return s.queries.listOffers(ctx, `SELECT `+offerColumns+` FROM flash_deals
		WHERE ends_at > now()
		ORDER BY ends_at, id`)
}

func (s *store) ListPreferences(ctx context.Context, userID string) ([]domain.PreferenceRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT category, identifier FROM user_preferences
		WHERE user_id = $1
		ORDER BY category, identifier`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[domain.PreferenceRow])
}

func (s *store) ListSaved(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT offer_id FROM saved_offers
		WHERE user_id = $1
		ORDER BY created_at, offer_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query saved offers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type queries struct {
	db dbtx
}

func (q *queries) withTx(tx pgx.Tx) *queries {
	return &queries{db: tx}
}

func (q *queries) listOffers(ctx context.Context, sql string) ([]domain.Offer, error) {
	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[domain.Offer])
}

func (q *queries) InsertPreference(ctx context.Context, userID string, category domain.Category, identifier string) (int64, error) {
	tag, err := q.db.Exec(ctx, `INSERT INTO user_preferences (user_id, category, identifier)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, userID, string(category), identifier)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *queries) DeletePreference(ctx context.Context, userID string, category domain.Category, identifier string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM user_preferences
		WHERE user_id = $1 AND category = $2 AND identifier = $3`, userID, string(category), identifier)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *queries) InsertSaved(ctx context.Context, userID, offerID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `INSERT INTO saved_offers (user_id, offer_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, offerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *queries) DeleteSaved(ctx context.Context, userID, offerID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM saved_offers
		WHERE user_id = $1 AND offer_id = $2`, userID, offerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
