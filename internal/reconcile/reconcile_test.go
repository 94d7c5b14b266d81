package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store/memory"
)

func testTxn() domain.BankTransaction {
	return domain.BankTransaction{
		ID:          "t-1",
		BankID:      "bank-1",
		PostedDate:  "2026-02-10",
		Amount:      -150.00,
		Description: "PADARIA XYZ",
		FITID:       "fit-1",
	}
}

func pendingPosting() domain.Posting {
	return domain.Posting{
		ID:             "p-1",
		Status:         domain.PostingPending,
		OccurrenceDate: "2026-02-09",
		Amount:         150.00,
		EntityID:       "e-1",
		EntityName:     "PADARIA XYZ LTDA",
	}
}

func TestCommit_SettlesPendingPosting(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	posting := pendingPosting()
	mem.SeedPosting(posting)

	committer := NewCommitter(mem.Stores())
	rec, err := committer.Commit(ctx, testTxn(), posting, domain.MatchManual, 95, "looks right")
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "t-1", rec.BankTransactionID)
	assert.Equal(t, "p-1", rec.PostingID)
	assert.Equal(t, 95.0, rec.MatchScore)
	assert.Equal(t, 150.00, rec.MatchedAmount)
	assert.Equal(t, "looks right", rec.Notes)

	p, err := mem.GetPosting(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PostingSettled, p.Status)
	assert.Equal(t, "bank-1", p.BankID)
	assert.Equal(t, "2026-02-10", p.SettlementDate, "settlement date comes from the bank transaction")

	stored, err := mem.FindByBankTransaction(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestCommit_SecondCommitRejected(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	posting := pendingPosting()
	mem.SeedPosting(posting)

	committer := NewCommitter(mem.Stores())
	_, err := committer.Commit(ctx, testTxn(), posting, domain.MatchAuto, 95, "")
	require.NoError(t, err)

	other := domain.Posting{ID: "p-2", Status: domain.PostingPending, OccurrenceDate: "2026-02-10", Amount: 150.00}
	mem.SeedPosting(other)

	_, err = committer.Commit(ctx, testTxn(), other, domain.MatchManual, 80, "")
	assert.ErrorIs(t, err, ErrAlreadyReconciled)

	// The second posting stays untouched
	p, err := mem.GetPosting(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, domain.PostingPending, p.Status)
}

func TestCommit_SettledPostingKeepsItsSettlement(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	posting := domain.Posting{
		ID:             "p-1",
		Status:         domain.PostingSettled,
		OccurrenceDate: "2026-02-09",
		SettlementDate: "2026-02-09",
		BankID:         "bank-9",
		Amount:         150.00,
	}
	mem.SeedPosting(posting)

	committer := NewCommitter(mem.Stores())
	_, err := committer.Commit(ctx, testTxn(), posting, domain.MatchManual, 85, "")
	require.NoError(t, err)

	p, err := mem.GetPosting(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09", p.SettlementDate)
	assert.Equal(t, "bank-9", p.BankID)

	// The link still exists
	_, err = mem.FindByBankTransaction(ctx, "t-1")
	require.NoError(t, err)
}

func TestCommit_LearnsPayeeMapping(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	posting := pendingPosting()
	mem.SeedPosting(posting)

	committer := NewCommitter(mem.Stores())
	_, err := committer.Commit(ctx, testTxn(), posting, domain.MatchManual, 95, "")
	require.NoError(t, err)

	m, err := mem.Find(ctx, "bank-1", "padaria xyz")
	require.NoError(t, err)
	assert.Equal(t, "e-1", m.EntityID)
	assert.Equal(t, "PADARIA XYZ", m.PayeeKey)
}

func TestCommit_NoMappingWithoutEntity(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	posting := domain.Posting{ID: "p-1", Status: domain.PostingPending, OccurrenceDate: "2026-02-09", Amount: 150.00}
	mem.SeedPosting(posting)

	committer := NewCommitter(mem.Stores())
	_, err := committer.Commit(ctx, testTxn(), posting, domain.MatchManual, 85, "")
	require.NoError(t, err)

	_, err = mem.Find(ctx, "bank-1", "padaria xyz")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	posting := pendingPosting()
	mem.SeedPosting(posting)

	committer := NewCommitter(mem.Stores())
	rec, err := committer.Commit(ctx, testTxn(), posting, domain.MatchManual, 95, "")
	require.NoError(t, err)

	require.NoError(t, committer.Delete(ctx, rec.ID))

	_, err = mem.FindByBankTransaction(ctx, "t-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The posting stays settled after the link is removed
	p, err := mem.GetPosting(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PostingSettled, p.Status)

	err = committer.Delete(ctx, rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
