// Package store defines the persistence ports consumed by the
// reconciliation core. Each collaborator gets the narrowest interface the
// core needs; adapters live in the subpackages (memory, firestore, sqlite)
// and translate rows into typed domain records exactly once, at this
// boundary.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// StorageError wraps any failure from a backing store. The core aborts the
// operation at the step where it occurred and propagates the underlying
// message; no rollback is attempted (see the ingest package for why
// at-least-once is safe here).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err with the failing operation name.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// PostingQuery bounds an open-posting lookup. Dates are inclusive
// YYYY-MM-DD strings; amounts are inclusive unsigned bounds.
type PostingQuery struct {
	Status    domain.PostingStatus
	DateFrom  string
	DateTo    string
	AmountMin float64
	AmountMax float64
}

// PostingStore reads ledger postings and performs the single write this core
// is allowed: flipping a pending posting to settled.
type PostingStore interface {
	// GetPosting returns one posting by id, or ErrNotFound.
	GetPosting(ctx context.Context, id string) (*domain.Posting, error)

	// Query returns postings matching all bounds, ordered by occurrence date.
	Query(ctx context.Context, q PostingQuery) ([]domain.Posting, error)

	// Settle marks the posting SETTLED with the given bank and settlement
	// date. Implementations must not touch any other field.
	Settle(ctx context.Context, postingID, bankID, settlementDate string) error
}

// BankTransactionStore persists imported statement lines.
type BankTransactionStore interface {
	// GetTransaction returns one transaction by id, or ErrNotFound.
	GetTransaction(ctx context.Context, id string) (*domain.BankTransaction, error)

	// ExistingFITIDs returns the subset of fitIDs already stored for the
	// bank. One batched call per import, never one query per transaction.
	ExistingFITIDs(ctx context.Context, bankID string, fitIDs []string) (map[string]struct{}, error)

	// InsertMany stores new transactions. Rows whose (bankID, FITID) already
	// exist must be left untouched so that a retried import stays idempotent.
	InsertMany(ctx context.Context, txns []domain.BankTransaction) error

	// ListByBank returns transactions for a bank within the optional
	// inclusive date range (empty string = unbounded), newest first.
	ListByBank(ctx context.Context, bankID, from, to string) ([]domain.BankTransaction, error)
}

// ImportRecordStore persists one audit row per distinct statement file.
type ImportRecordStore interface {
	// FindByHash returns the record for a file hash, or ErrNotFound.
	FindByHash(ctx context.Context, fileHash string) (*domain.ImportRecord, error)

	Insert(ctx context.Context, rec domain.ImportRecord) error
}

// PayeeMappingStore persists learned description-to-entity associations.
type PayeeMappingStore interface {
	// Find returns the mapping for (bankID, normalizedKey), or ErrNotFound.
	Find(ctx context.Context, bankID, normalizedKey string) (*domain.PayeeMapping, error)

	// Upsert inserts or replaces the mapping keyed by (BankID, NormalizedKey).
	Upsert(ctx context.Context, m domain.PayeeMapping) error
}

// ReconciliationStore persists the links between bank transactions and
// postings.
type ReconciliationStore interface {
	// FindByBankTransaction returns the link for a bank transaction, or
	// ErrNotFound. At most one link exists per transaction by contract.
	FindByBankTransaction(ctx context.Context, bankTransactionID string) (*domain.Reconciliation, error)

	Insert(ctx context.Context, rec domain.Reconciliation) error

	// Delete removes a link by id. Deleting a link does not un-settle the
	// posting; that is a ledger-side decision outside this core.
	Delete(ctx context.Context, id string) error

	// ReconciledTransactionIDs returns the set of bank transaction ids that
	// already have a link, for flagging lists in the API layer.
	ReconciledTransactionIDs(ctx context.Context, bankID string) (map[string]struct{}, error)
}

// Stores bundles all ports for components that need several of them.
type Stores struct {
	Postings        PostingStore
	Transactions    BankTransactionStore
	Imports         ImportRecordStore
	Mappings        PayeeMappingStore
	Reconciliations ReconciliationStore
}
