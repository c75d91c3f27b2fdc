package adjustments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyABCPareto(t *testing.T) {
	repo := newMemRepo()
	repo.movements = []ValueMovement{
		{ItemID: 1, SKU: "OIL", Value: 800},
		{ItemID: 2, SKU: "PAD", Value: 150},
		{ItemID: 3, SKU: "NUT", Value: 50},
	}
	svc := newTestService(repo, newMemStock(), newFakeLedger(), &fakeGuard{})

	report, err := svc.ClassifyABC(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1000), report.TotalValue)
	require.Len(t, report.Entries, 3)

	require.Equal(t, "A", report.Entries[0].Class)
	require.Equal(t, int64(80), report.Entries[0].CumulativeShare)
	require.Equal(t, "B", report.Entries[1].Class)
	require.Equal(t, int64(95), report.Entries[1].CumulativeShare)
	require.Equal(t, "C", report.Entries[2].Class)
	require.Equal(t, int64(100), report.Entries[2].CumulativeShare)
}

func TestClassifyABCDominantMoverIsClassA(t *testing.T) {
	repo := newMemRepo()
	repo.movements = []ValueMovement{
		{ItemID: 1, SKU: "ENGINE", Value: 9800},
		{ItemID: 2, SKU: "WASHER", Value: 200},
	}
	svc := newTestService(repo, newMemStock(), newFakeLedger(), &fakeGuard{})

	report, err := svc.ClassifyABC(context.Background(), 1)
	require.NoError(t, err)

	// One item carries 98% of the value: it is the A class, not the tail.
	require.Equal(t, "A", report.Entries[0].Class)
	require.Equal(t, int64(98), report.Entries[0].CumulativeShare)
	require.Equal(t, "C", report.Entries[1].Class)
}

func TestClassifyABCOrdersByValue(t *testing.T) {
	repo := newMemRepo()
	repo.movements = []ValueMovement{
		{ItemID: 1, SKU: "LOW", Value: 10},
		{ItemID: 2, SKU: "HIGH", Value: 500},
	}
	svc := newTestService(repo, newMemStock(), newFakeLedger(), &fakeGuard{})

	report, err := svc.ClassifyABC(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "HIGH", report.Entries[0].SKU)
	require.Equal(t, "LOW", report.Entries[1].SKU)
}

func TestClassifyABCEmptyWindow(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, newMemStock(), newFakeLedger(), &fakeGuard{})

	report, err := svc.ClassifyABC(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, report.TotalValue)
	require.Empty(t, report.Entries)
}
