package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
)

type balanceKey struct {
	storeID   int64
	productID int64
}

type lotKey struct {
	storeID   int64
	productID int64
	expiry    string
}

// memoryInventoryRepo implements RepositoryPort and TxRepository. WithTx
// snapshots state so a failed callback behaves like a rolled-back transaction.
type memoryInventoryRepo struct {
	balances  map[balanceKey]StockBalance
	lots      map[lotKey]ExpiryLot
	movements []Movement
	documents map[int64]Document
	seq       map[numbering.Kind]int64
	nextID    int64
}

func newMemoryInventoryRepo() *memoryInventoryRepo {
	return &memoryInventoryRepo{
		balances:  make(map[balanceKey]StockBalance),
		lots:      make(map[lotKey]ExpiryLot),
		documents: make(map[int64]Document),
		seq:       make(map[numbering.Kind]int64),
	}
}

func (r *memoryInventoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.clone()
	if err := fn(ctx, r); err != nil {
		*r = *snapshot
		return err
	}
	return nil
}

func (r *memoryInventoryRepo) clone() *memoryInventoryRepo {
	out := newMemoryInventoryRepo()
	for k, v := range r.balances {
		out.balances[k] = v
	}
	for k, v := range r.lots {
		out.lots[k] = v
	}
	out.movements = append([]Movement(nil), r.movements...)
	for k, v := range r.documents {
		v.Items = append([]DocumentItem(nil), v.Items...)
		out.documents[k] = v
	}
	for k, v := range r.seq {
		out.seq[k] = v
	}
	out.nextID = r.nextID
	return out
}

func lotKeyFor(storeID, productID int64, expiry time.Time) lotKey {
	return lotKey{storeID: storeID, productID: productID, expiry: expiry.Format("2006-01-02")}
}

// --- TxRepository ---

func (r *memoryInventoryRepo) NextNumber(_ context.Context, kind numbering.Kind, _ time.Time) (string, error) {
	prefix := kind.Prefix()
	if prefix == "" {
		return "", numbering.ErrUnknownKind
	}
	r.seq[kind]++
	return fmt.Sprintf("%s-%04d", prefix, r.seq[kind]), nil
}

func (r *memoryInventoryRepo) GetBalanceForUpdate(_ context.Context, storeID, productID int64) (StockBalance, bool, error) {
	b, ok := r.balances[balanceKey{storeID, productID}]
	return b, ok, nil
}

func (r *memoryInventoryRepo) UpsertBalance(_ context.Context, balance StockBalance) error {
	r.balances[balanceKey{balance.StoreID, balance.ProductID}] = balance
	return nil
}

func (r *memoryInventoryRepo) GetLotForUpdate(_ context.Context, storeID, productID int64, expiry time.Time) (ExpiryLot, bool, error) {
	lot, ok := r.lots[lotKeyFor(storeID, productID, expiry)]
	return lot, ok, nil
}

func (r *memoryInventoryRepo) UpsertLot(_ context.Context, lot ExpiryLot) error {
	if lot.ID == 0 {
		r.nextID++
		lot.ID = r.nextID
	}
	r.lots[lotKeyFor(lot.StoreID, lot.ProductID, lot.ExpiryDate)] = lot
	return nil
}

func (r *memoryInventoryRepo) DeleteLot(_ context.Context, lotID int64) error {
	for key, lot := range r.lots {
		if lot.ID == lotID {
			delete(r.lots, key)
			return nil
		}
	}
	return ErrLotNotFound
}

func (r *memoryInventoryRepo) InsertMovement(_ context.Context, movement Movement) (int64, error) {
	r.nextID++
	movement.ID = r.nextID
	r.movements = append(r.movements, movement)
	return movement.ID, nil
}

func (r *memoryInventoryRepo) InsertDocument(_ context.Context, doc Document) (int64, error) {
	r.nextID++
	doc.ID = r.nextID
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	r.documents[doc.ID] = doc
	return doc.ID, nil
}

func (r *memoryInventoryRepo) GetDocumentForUpdate(_ context.Context, id int64) (Document, error) {
	doc, ok := r.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (r *memoryInventoryRepo) AdvanceDocumentStage(_ context.Context, id int64, from, to DocumentStage) error {
	doc, ok := r.documents[id]
	if !ok || doc.Stage != from {
		return ErrStageConflict
	}
	doc.Stage = to
	doc.UpdatedAt = time.Now()
	r.documents[id] = doc
	return nil
}

// --- RepositoryPort reads ---

func (r *memoryInventoryRepo) GetStockBalance(_ context.Context, storeID, productID int64) (StockBalance, error) {
	b, ok := r.balances[balanceKey{storeID, productID}]
	if !ok {
		return StockBalance{StoreID: storeID, ProductID: productID, Qty: decimal.Zero}, nil
	}
	return b, nil
}

func (r *memoryInventoryRepo) ListStockBalances(_ context.Context, storeID int64) ([]StockBalance, error) {
	var out []StockBalance
	for key, b := range r.balances {
		if key.storeID == storeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (r *memoryInventoryRepo) ListExpiryLots(_ context.Context, storeID, productID int64) ([]ExpiryLot, error) {
	var out []ExpiryLot
	for key, lot := range r.lots {
		if key.storeID == storeID && key.productID == productID {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (r *memoryInventoryRepo) ListMovements(_ context.Context, storeID, productID int64, limit int) ([]Movement, error) {
	var out []Movement
	for i := len(r.movements) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.movements[i]
		if m.StoreID == storeID && m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryInventoryRepo) GetDocument(_ context.Context, id int64) (Document, error) {
	doc, ok := r.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (r *memoryInventoryRepo) ListDocuments(_ context.Context, stage DocumentStage, limit int) ([]Document, error) {
	var out []Document
	for _, doc := range r.documents {
		if stage != 0 && doc.Stage != stage {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// signedSum folds the movement log for one store and product.
func (r *memoryInventoryRepo) signedSum(storeID, productID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range r.movements {
		if m.StoreID == storeID && m.ProductID == productID {
			sum = sum.Add(m.QtyIn).Sub(m.QtyOut)
		}
	}
	return sum
}
