package numbering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memorySequenceRepo struct {
	values map[string]int64
}

func newMemorySequenceRepo() *memorySequenceRepo {
	return &memorySequenceRepo{values: make(map[string]int64)}
}

func (r *memorySequenceRepo) NextValue(ctx context.Context, kind Kind, period string) (int64, error) {
	key := string(kind) + ":" + period
	r.values[key]++
	return r.values[key], nil
}

func TestNextFormatsNumber(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemorySequenceRepo())

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	number, err := svc.Next(ctx, KindReceipt, at)
	require.NoError(t, err)
	require.Equal(t, "RCP20260314-0001", number)
}

func TestNextIncrementsPerKind(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemorySequenceRepo())

	at := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	first, err := svc.Next(ctx, KindInvoice, at)
	require.NoError(t, err)
	second, err := svc.Next(ctx, KindInvoice, at)
	require.NoError(t, err)
	require.Equal(t, "INV20260314-0001", first)
	require.Equal(t, "INV20260314-0002", second)

	receipt, err := svc.Next(ctx, KindReceipt, at)
	require.NoError(t, err)
	require.Equal(t, "RCP20260314-0001", receipt)
}

func TestNextResetsPerDay(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemorySequenceRepo())

	day1 := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)

	_, err := svc.Next(ctx, KindVoid, day1)
	require.NoError(t, err)
	next, err := svc.Next(ctx, KindVoid, day2)
	require.NoError(t, err)
	require.Equal(t, "VDN20260315-0001", next)
}

func TestNextRejectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemorySequenceRepo())

	_, err := svc.Next(ctx, Kind("BOGUS"), time.Now())
	require.ErrorIs(t, err, ErrUnknownKind)
}
