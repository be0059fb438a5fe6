package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		wrapper := &txRepo{
			tx:   tx,
			nums: numbering.NewService(numbering.NewRepository(tx)),
		}
		return fn(ctx, wrapper)
	})
}

// GetStockBalance returns the quantity row, zero when absent.
func (r *Repository) GetStockBalance(ctx context.Context, storeID, productID int64) (StockBalance, error) {
	var b StockBalance
	err := r.pool.QueryRow(ctx,
		`SELECT store_id, product_id, qty, updated_at FROM stock_balances WHERE store_id = $1 AND product_id = $2`,
		storeID, productID,
	).Scan(&b.StoreID, &b.ProductID, &b.Qty, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockBalance{StoreID: storeID, ProductID: productID, Qty: decimal.Zero}, nil
	}
	if err != nil {
		return StockBalance{}, err
	}
	return b, nil
}

// ListStockBalances lists every balance row in a store.
func (r *Repository) ListStockBalances(ctx context.Context, storeID int64) ([]StockBalance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT store_id, product_id, qty, updated_at FROM stock_balances WHERE store_id = $1 ORDER BY product_id`,
		storeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []StockBalance
	for rows.Next() {
		var b StockBalance
		if err := rows.Scan(&b.StoreID, &b.ProductID, &b.Qty, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListExpiryLots lists open lots for one product, soonest expiry first.
func (r *Repository) ListExpiryLots(ctx context.Context, storeID, productID int64) ([]ExpiryLot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, product_id, expiry_date, qty
		FROM expiry_lots
		WHERE store_id = $1 AND product_id = $2
		ORDER BY expiry_date`,
		storeID, productID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []ExpiryLot
	for rows.Next() {
		var lot ExpiryLot
		if err := rows.Scan(&lot.ID, &lot.StoreID, &lot.ProductID, &lot.ExpiryDate, &lot.Qty); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListMovements returns the newest movement log rows for one product.
func (r *Repository) ListMovements(ctx context.Context, storeID, productID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, number, move_type, store_id, product_id, qty_in, qty_out, balance_qty,
			party_kind, party_id, party_name, delivery_no, COALESCE(ref_id::text, ''),
			expiry_date, note, occurred_at, actor_id
		FROM movements
		WHERE store_id = $1 AND product_id = $2
		ORDER BY id DESC
		LIMIT $3`,
		storeID, productID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Number, &m.Type, &m.StoreID, &m.ProductID,
			&m.QtyIn, &m.QtyOut, &m.BalanceQty,
			&m.Party.Kind, &m.Party.ID, &m.Party.Name, &m.DeliveryNo, &m.RefID,
			&m.ExpiryDate, &m.Note, &m.At, &m.ActorID); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// GetDocument returns one document with its items.
func (r *Repository) GetDocument(ctx context.Context, id int64) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, documentQuery+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.Items, err = r.listDocumentItems(ctx, r.pool, doc.ID)
	return doc, err
}

// ListDocuments lists documents, optionally filtered by stage.
func (r *Repository) ListDocuments(ctx context.Context, stage DocumentStage, limit int) ([]Document, error) {
	query := documentQuery + ` WHERE ($1 = 0 OR stage = $1) ORDER BY id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, int(stage), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Items, err = r.listDocumentItems(ctx, r.pool, docs[i].ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

const documentQuery = `
	SELECT id, number, kind, stage, from_store_id, to_kind, to_id, to_name,
		delivery_no, COALESCE(ref_id::text, ''), created_by, created_at, updated_at
	FROM inventory_documents`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Number, &doc.Kind, &doc.Stage, &doc.FromStoreID,
		&doc.To.Kind, &doc.To.ID, &doc.To.Name, &doc.DeliveryNo, &doc.RefID,
		&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) listDocumentItems(ctx context.Context, q querier, documentID int64) ([]DocumentItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, qty, expiry_date
		FROM inventory_document_items
		WHERE document_id = $1
		ORDER BY id`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DocumentItem
	for rows.Next() {
		var item DocumentItem
		if err := rows.Scan(&item.ProductID, &item.Qty, &item.ExpiryDate); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- Transactional side ---

type txRepo struct {
	tx   pgx.Tx
	nums *numbering.Service
}

func (t *txRepo) NextNumber(ctx context.Context, kind numbering.Kind, at time.Time) (string, error) {
	return t.nums.Next(ctx, kind, at)
}

func (t *txRepo) GetBalanceForUpdate(ctx context.Context, storeID, productID int64) (StockBalance, bool, error) {
	var b StockBalance
	err := t.tx.QueryRow(ctx, `
		SELECT store_id, product_id, qty, updated_at
		FROM stock_balances
		WHERE store_id = $1 AND product_id = $2
		FOR UPDATE`,
		storeID, productID,
	).Scan(&b.StoreID, &b.ProductID, &b.Qty, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockBalance{}, false, nil
	}
	if err != nil {
		return StockBalance{}, false, err
	}
	return b, true, nil
}

func (t *txRepo) UpsertBalance(ctx context.Context, balance StockBalance) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_balances (store_id, product_id, qty, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = NOW()`,
		balance.StoreID, balance.ProductID, balance.Qty,
	)
	return err
}

func (t *txRepo) GetLotForUpdate(ctx context.Context, storeID, productID int64, expiry time.Time) (ExpiryLot, bool, error) {
	var lot ExpiryLot
	err := t.tx.QueryRow(ctx, `
		SELECT id, store_id, product_id, expiry_date, qty
		FROM expiry_lots
		WHERE store_id = $1 AND product_id = $2 AND expiry_date = $3
		FOR UPDATE`,
		storeID, productID, expiry,
	).Scan(&lot.ID, &lot.StoreID, &lot.ProductID, &lot.ExpiryDate, &lot.Qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExpiryLot{}, false, nil
	}
	if err != nil {
		return ExpiryLot{}, false, err
	}
	return lot, true, nil
}

func (t *txRepo) UpsertLot(ctx context.Context, lot ExpiryLot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO expiry_lots (store_id, product_id, expiry_date, qty)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_id, product_id, expiry_date)
		DO UPDATE SET qty = EXCLUDED.qty`,
		lot.StoreID, lot.ProductID, lot.ExpiryDate, lot.Qty,
	)
	return err
}

func (t *txRepo) DeleteLot(ctx context.Context, lotID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM expiry_lots WHERE id = $1`, lotID)
	return err
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO movements (
			number, move_type, store_id, product_id, qty_in, qty_out, balance_qty,
			party_kind, party_id, party_name, delivery_no, ref_id, expiry_date,
			note, occurred_at, actor_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, '')::uuid, $13, $14, $15, $16)
		RETURNING id`,
		m.Number, string(m.Type), m.StoreID, m.ProductID, m.QtyIn, m.QtyOut, m.BalanceQty,
		string(m.Party.Kind), m.Party.ID, m.Party.Name, m.DeliveryNo, m.RefID, m.ExpiryDate,
		m.Note, m.At, m.ActorID,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO inventory_documents (
			number, kind, stage, from_store_id, to_kind, to_id, to_name,
			delivery_no, ref_id, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::uuid, $10, NOW(), NOW())
		RETURNING id`,
		doc.Number, string(doc.Kind), int(doc.Stage), doc.FromStoreID,
		string(doc.To.Kind), doc.To.ID, doc.To.Name, doc.DeliveryNo, doc.RefID, doc.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, item := range doc.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO inventory_document_items (document_id, product_id, qty, expiry_date)
			VALUES ($1, $2, $3, $4)`,
			id, item.ProductID, item.Qty, item.ExpiryDate,
		); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (t *txRepo) GetDocumentForUpdate(ctx context.Context, id int64) (Document, error) {
	doc, err := scanDocument(t.tx.QueryRow(ctx, documentQuery+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	rows, err := t.tx.Query(ctx, `
		SELECT product_id, qty, expiry_date
		FROM inventory_document_items
		WHERE document_id = $1
		ORDER BY id`,
		id,
	)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item DocumentItem
		if err := rows.Scan(&item.ProductID, &item.Qty, &item.ExpiryDate); err != nil {
			return Document{}, err
		}
		doc.Items = append(doc.Items, item)
	}
	return doc, rows.Err()
}

// AdvanceDocumentStage claims the transition with a conditional update; zero
// rows affected means another request won or the stage was wrong.
func (t *txRepo) AdvanceDocumentStage(ctx context.Context, id int64, from, to DocumentStage) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE inventory_documents
		SET stage = $3, updated_at = NOW()
		WHERE id = $1 AND stage = $2`,
		id, int(from), int(to),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStageConflict
	}
	return nil
}
