package numbering

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so sequences can be drawn
// either standalone or inside a posting transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed sequences. Each (kind, period) pair is
// one row incremented atomically, so concurrent callers can never be handed the
// same value. This replaces the legacy generate-and-check-existence loop.
type Repository struct {
	q Querier
}

// NewRepository constructs a repository.
func NewRepository(q Querier) *Repository {
	return &Repository{q: q}
}

// NextValue increments and returns the sequence value for kind/period.
func (r *Repository) NextValue(ctx context.Context, kind Kind, period string) (int64, error) {
	query := `
		INSERT INTO number_sequences (kind, period, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (kind, period)
		DO UPDATE SET value = number_sequences.value + 1
		RETURNING value`

	var value int64
	err := r.q.QueryRow(ctx, query, string(kind), period).Scan(&value)
	return value, err
}
