package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
)

func pending(id, date string, amount float64) domain.Posting {
	return domain.Posting{ID: id, Status: domain.PostingPending, OccurrenceDate: date, Amount: amount}
}

func TestPostingQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SeedPosting(pending("p-1", "2026-02-08", 150.00))
	s.SeedPosting(pending("p-2", "2026-02-10", 150.50))
	s.SeedPosting(pending("p-3", "2026-02-20", 150.00))
	s.SeedPosting(domain.Posting{ID: "p-4", Status: domain.PostingSettled, OccurrenceDate: "2026-02-10", Amount: 150.00})

	got, err := s.Query(ctx, store.PostingQuery{
		Status:    domain.PostingPending,
		DateFrom:  "2026-02-01",
		DateTo:    "2026-02-15",
		AmountMin: 149.00,
		AmountMax: 151.00,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by occurrence date
	assert.Equal(t, "p-1", got[0].ID)
	assert.Equal(t, "p-2", got[1].ID)
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SeedPosting(pending("p-1", "2026-02-10", 150.00))

	require.NoError(t, s.Settle(ctx, "p-1", "bank-1", "2026-02-11"))

	p, err := s.GetPosting(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PostingSettled, p.Status)
	assert.Equal(t, "bank-1", p.BankID)
	assert.Equal(t, "2026-02-11", p.SettlementDate)

	err = s.Settle(ctx, "missing", "bank-1", "2026-02-11")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransactionDedup(t *testing.T) {
	ctx := context.Background()
	s := New()

	txns := []domain.BankTransaction{
		{ID: "t-1", BankID: "bank-1", PostedDate: "2026-02-10", Amount: -150, FITID: "fit-1", Description: "first"},
		{ID: "t-2", BankID: "bank-1", PostedDate: "2026-02-11", Amount: 2000, FITID: "fit-2", Description: "second"},
	}
	require.NoError(t, s.InsertMany(ctx, txns))

	// Same key again with a different row must not replace the original
	require.NoError(t, s.InsertMany(ctx, []domain.BankTransaction{
		{ID: "t-3", BankID: "bank-1", PostedDate: "2026-02-10", Amount: -150, FITID: "fit-1", Description: "replacement"},
	}))

	existing, err := s.ExistingFITIDs(ctx, "bank-1", []string{"fit-1", "fit-2", "fit-3"})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.Contains(t, existing, "fit-1")
	assert.NotContains(t, existing, "fit-3")

	// Same FITID under another bank is a different key
	other, err := s.ExistingFITIDs(ctx, "bank-2", []string{"fit-1"})
	require.NoError(t, err)
	assert.Empty(t, other)

	got, err := s.GetTransaction(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description)
}

func TestListByBank(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertMany(ctx, []domain.BankTransaction{
		{ID: "t-1", BankID: "bank-1", PostedDate: "2026-02-10", FITID: "f1"},
		{ID: "t-2", BankID: "bank-1", PostedDate: "2026-02-12", FITID: "f2"},
		{ID: "t-3", BankID: "bank-2", PostedDate: "2026-02-11", FITID: "f3"},
		{ID: "t-4", BankID: "bank-1", PostedDate: "2026-03-01", FITID: "f4"},
	}))

	got, err := s.ListByBank(ctx, "bank-1", "2026-02-01", "2026-02-28")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first
	assert.Equal(t, "t-2", got[0].ID)
	assert.Equal(t, "t-1", got[1].ID)

	all, err := s.ListByBank(ctx, "bank-1", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestImportRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.FindByHash(ctx, "hash-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec := domain.ImportRecord{ID: "i-1", BankID: "bank-1", FileHash: "hash-1", Status: domain.ImportStatusImported}
	require.NoError(t, s.Insert(ctx, rec))

	// Second insert for the same hash keeps the first record
	require.NoError(t, s.Insert(ctx, domain.ImportRecord{ID: "i-2", BankID: "bank-1", FileHash: "hash-1"}))

	got, err := s.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "i-1", got.ID)
}

func TestPayeeMappings(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Find(ctx, "bank-1", "padaria xyz")
	assert.ErrorIs(t, err, store.ErrNotFound)

	m := domain.PayeeMapping{BankID: "bank-1", PayeeKey: "PADARIA XYZ", NormalizedKey: "padaria xyz", EntityID: "e-1", Confidence: 1}
	require.NoError(t, s.Upsert(ctx, m))

	m.EntityID = "e-2"
	require.NoError(t, s.Upsert(ctx, m))

	got, err := s.Find(ctx, "bank-1", "padaria xyz")
	require.NoError(t, err)
	assert.Equal(t, "e-2", got.EntityID)
}

func TestReconciliations(t *testing.T) {
	ctx := context.Background()
	s := New()
	recs := s.Reconciliations()

	_, err := s.FindByBankTransaction(ctx, "t-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec := domain.Reconciliation{ID: "r-1", BankTransactionID: "t-1", PostingID: "p-1", MatchType: domain.MatchManual}
	require.NoError(t, recs.Insert(ctx, rec))

	got, err := s.FindByBankTransaction(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.PostingID)

	ids, err := s.ReconciledTransactionIDs(ctx, "bank-1")
	require.NoError(t, err)
	assert.Contains(t, ids, "t-1")

	require.NoError(t, s.Delete(ctx, "r-1"))
	_, err = s.FindByBankTransaction(ctx, "t-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.Delete(ctx, "r-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
