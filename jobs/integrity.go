package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-ledger/internal/observability"
)

// LedgerIntegrityJob re-derives the stored ledger invariants from the raw rows
// and reports every violation. It never mutates data; a violation means a bug
// slipped past the posting transactions and needs a human.
type LedgerIntegrityJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *observability.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *observability.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type integrityViolation struct {
	Check  string
	Ref    string
	Detail string
}

// Handle executes the integrity scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.MaxViolations <= 0 {
		payload.MaxViolations = 100
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting ledger integrity scan")

	var resultErr error
	defer func() {
		j.Metrics.CountJob(TaskLedgerIntegrityScan, resultErr)
	}()

	violations, err := j.scan(ctx, payload.MaxViolations)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, v := range violations {
		logger.Warn("ledger invariant violated",
			slog.String("check", v.Check),
			slog.String("ref", v.Ref),
			slog.String("detail", v.Detail),
		)
	}

	logger.Info("completed ledger integrity scan",
		slog.Int("violations", len(violations)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LedgerIntegrityJob) scan(ctx context.Context, max int) ([]integrityViolation, error) {
	if j.Pool == nil {
		return nil, errors.New("integrity scan: pool not configured")
	}

	checks := []struct {
		name  string
		query string
	}{
		{
			// Applying a payment moves value between balance_due and
			// total_paid; the sum never changes.
			name: "invoice_amount_conservation",
			query: `SELECT number, balance_due::text || '+' || total_paid::text || ' != ' || total_due::text
				FROM invoices
				WHERE status <> 'CANCELLED' AND balance_due + total_paid <> total_due
				LIMIT $1`,
		},
		{
			name: "invoice_status_matches_balance",
			query: `SELECT number, 'status=' || status || ' balance_due=' || balance_due::text
				FROM invoices
				WHERE (status = 'CLOSED' AND balance_due <> 0)
				   OR (status = 'OPEN' AND balance_due <= 0)
				LIMIT $1`,
		},
		{
			name: "refund_within_refundable",
			query: `SELECT void_no, 'refunded=' || refunded_amount::text || ' paid=' || total_paid::text
				FROM voided_sales
				WHERE refunded_amount > total_paid
				   OR (is_refunded AND refunded_amount < total_paid)
				LIMIT $1`,
		},
		{
			// The balance row is a cache of the movement log.
			name: "stock_balance_matches_movements",
			query: `SELECT b.store_id::text || ':' || b.product_id::text,
					'qty=' || b.qty::text || ' movements=' || COALESCE(m.total, 0)::text
				FROM stock_balances b
				LEFT JOIN (
					SELECT store_id, product_id, SUM(qty_in - qty_out) AS total
					FROM movements GROUP BY store_id, product_id
				) m ON m.store_id = b.store_id AND m.product_id = b.product_id
				WHERE b.qty <> COALESCE(m.total, 0)
				LIMIT $1`,
		},
		{
			name: "expiry_lot_positive",
			query: `SELECT store_id::text || ':' || product_id::text, 'qty=' || qty::text
				FROM expiry_lots
				WHERE qty <= 0
				LIMIT $1`,
		},
	}

	results := make([][]integrityViolation, len(checks))
	g, ctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			rows, err := j.Pool.Query(ctx, check.query, max)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var ref, detail string
				if err := rows.Scan(&ref, &detail); err != nil {
					return err
				}
				results[i] = append(results[i], integrityViolation{Check: check.name, Ref: ref, Detail: detail})
			}
			return rows.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []integrityViolation
	for _, part := range results {
		out = append(out, part...)
		if len(out) >= max {
			out = out[:max]
			break
		}
	}
	return out, nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrityScan))
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
