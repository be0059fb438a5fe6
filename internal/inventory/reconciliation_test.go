package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconcileCommitsDifferences(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	seedStock(t, svc, 10, 100, "50", nil)
	seedStock(t, svc, 10, 101, "20", nil)
	seedStock(t, svc, 10, 102, "8", nil)

	result, err := svc.Reconcile(ctx, ReconcileInput{
		StoreID: 10,
		Reason:  Counterparty{Kind: PartyAdjustmentReason, ID: 7, Name: "Stock take"},
		Counts: []ProductCount{
			{ProductID: 100, CountedQty: dec("47")}, // shrinkage
			{ProductID: 101, CountedQty: dec("20")}, // matches
			{ProductID: 102, CountedQty: dec("11")}, // found
		},
		ActorID: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.MovementNo)
	require.Len(t, result.Corrections, 2)

	require.Equal(t, int64(100), result.Corrections[0].ProductID)
	require.True(t, result.Corrections[0].Delta.Equal(dec("-3")))
	require.Equal(t, int64(102), result.Corrections[1].ProductID)
	require.True(t, result.Corrections[1].Delta.Equal(dec("3")))

	// Balances now equal the counted quantities, and the movement log agrees.
	for _, want := range []struct {
		productID int64
		qty       string
	}{{100, "47"}, {101, "20"}, {102, "11"}} {
		balance, err := repo.GetStockBalance(ctx, 10, want.productID)
		require.NoError(t, err)
		require.True(t, balance.Qty.Equal(dec(want.qty)), "product %d", want.productID)
		require.True(t, repo.signedSum(10, want.productID).Equal(dec(want.qty)))
	}
}

func TestReconcileMatchingCountsIsNoOp(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	seedStock(t, svc, 10, 100, "50", nil)
	before := len(repo.movements)

	result, err := svc.Reconcile(ctx, ReconcileInput{
		StoreID: 10,
		Reason:  Counterparty{Kind: PartyAdjustmentReason, ID: 7, Name: "Stock take"},
		Counts:  []ProductCount{{ProductID: 100, CountedQty: dec("50")}},
		ActorID: 1,
	})
	require.NoError(t, err)
	require.Empty(t, result.MovementNo)
	require.Empty(t, result.Corrections)
	require.Len(t, repo.movements, before)
}

func TestReconcileCountsUntrackedProduct(t *testing.T) {
	svc, repo := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	// No balance row exists yet; the count creates one.
	result, err := svc.Reconcile(ctx, ReconcileInput{
		StoreID: 10,
		Reason:  Counterparty{Kind: PartyAdjustmentReason, ID: 7, Name: "Stock take"},
		Counts:  []ProductCount{{ProductID: 900, CountedQty: dec("5")}},
		ActorID: 1,
	})
	require.NoError(t, err)
	require.Len(t, result.Corrections, 1)
	require.True(t, result.Corrections[0].SystemQty.IsZero())

	balance, err := repo.GetStockBalance(ctx, 10, 900)
	require.NoError(t, err)
	require.True(t, balance.Qty.Equal(dec("5")))
}

func TestReconcileRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	reason := Counterparty{Kind: PartyAdjustmentReason, ID: 7, Name: "Stock take"}

	_, err := svc.Reconcile(ctx, ReconcileInput{StoreID: 10, Reason: reason, ActorID: 1})
	require.ErrorIs(t, err, ErrEmptyItems)

	_, err = svc.Reconcile(ctx, ReconcileInput{
		StoreID: 10,
		Reason:  reason,
		Counts:  []ProductCount{{ProductID: 100, CountedQty: dec("-1")}},
		ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Reconcile(ctx, ReconcileInput{
		StoreID: 10,
		Reason:  Counterparty{Kind: PartyAdjustmentReason, ID: 0},
		Counts:  []ProductCount{{ProductID: 100, CountedQty: dec("1")}},
		ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInvalidCounterparty)
}
