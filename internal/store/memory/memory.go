// Package memory provides an in-memory implementation of every store port.
// It backs the test suite and local single-process runs; it is not meant to
// survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
)

// Store holds all collections behind one lock. Operations copy records on
// the way in and out so callers never share mutable state with the store.
type Store struct {
	mu              sync.RWMutex
	postings        map[string]domain.Posting
	transactions    map[string]domain.BankTransaction // keyed by bankID|FITID
	imports         map[string]domain.ImportRecord    // keyed by file hash
	mappings        map[string]domain.PayeeMapping    // keyed by bankID|normalizedKey
	reconciliations map[string]domain.Reconciliation  // keyed by id
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		postings:        make(map[string]domain.Posting),
		transactions:    make(map[string]domain.BankTransaction),
		imports:         make(map[string]domain.ImportRecord),
		mappings:        make(map[string]domain.PayeeMapping),
		reconciliations: make(map[string]domain.Reconciliation),
	}
}

// Stores returns the port bundle backed by this store.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Postings:        s,
		Transactions:    s,
		Imports:         s,
		Mappings:        s,
		Reconciliations: s.Reconciliations(),
	}
}

// Reconciliations returns the reconciliation port. A wrapper is needed
// because ImportRecordStore and ReconciliationStore both name their write
// Insert, with different signatures.
func (s *Store) Reconciliations() store.ReconciliationStore {
	return reconciliationStore{s}
}

type reconciliationStore struct{ *Store }

func (r reconciliationStore) Insert(ctx context.Context, rec domain.Reconciliation) error {
	return r.InsertReconciliation(ctx, rec)
}

func txnKey(bankID, fitID string) string { return bankID + "|" + fitID }

// SeedPosting inserts a posting directly, for tests and fixtures.
func (s *Store) SeedPosting(p domain.Posting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postings[p.ID] = p
}

// GetPosting implements store.PostingStore.
func (s *Store) GetPosting(_ context.Context, id string) (*domain.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.postings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := p
	return &out, nil
}

// GetTransaction implements store.BankTransactionStore.
func (s *Store) GetTransaction(_ context.Context, id string) (*domain.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.ID == id {
			out := t
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

// Query implements store.PostingStore.
func (s *Store) Query(_ context.Context, q store.PostingQuery) ([]domain.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Posting
	for _, p := range s.postings {
		if q.Status != "" && p.Status != q.Status {
			continue
		}
		if q.DateFrom != "" && p.OccurrenceDate < q.DateFrom {
			continue
		}
		if q.DateTo != "" && p.OccurrenceDate > q.DateTo {
			continue
		}
		if p.Amount < q.AmountMin || p.Amount > q.AmountMax {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceDate != out[j].OccurrenceDate {
			return out[i].OccurrenceDate < out[j].OccurrenceDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Settle implements store.PostingStore.
func (s *Store) Settle(_ context.Context, postingID, bankID, settlementDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.postings[postingID]
	if !ok {
		return store.NewStorageError("settle posting", store.ErrNotFound)
	}
	p.Status = domain.PostingSettled
	p.BankID = bankID
	p.SettlementDate = settlementDate
	s.postings[postingID] = p
	return nil
}

// ExistingFITIDs implements store.BankTransactionStore.
func (s *Store) ExistingFITIDs(_ context.Context, bankID string, fitIDs []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := make(map[string]struct{})
	for _, fitID := range fitIDs {
		if _, ok := s.transactions[txnKey(bankID, fitID)]; ok {
			existing[fitID] = struct{}{}
		}
	}
	return existing, nil
}

// InsertMany implements store.BankTransactionStore.
func (s *Store) InsertMany(_ context.Context, txns []domain.BankTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txns {
		key := txnKey(t.BankID, t.FITID)
		if _, ok := s.transactions[key]; ok {
			continue // dedup key wins; existing rows are never replaced
		}
		s.transactions[key] = t
	}
	return nil
}

// ListByBank implements store.BankTransactionStore.
func (s *Store) ListByBank(_ context.Context, bankID, from, to string) ([]domain.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.BankTransaction
	for _, t := range s.transactions {
		if t.BankID != bankID {
			continue
		}
		if from != "" && t.PostedDate < from {
			continue
		}
		if to != "" && t.PostedDate > to {
			continue
		}
		out = append(out, t)
	}

	// Newest first, id as stable tie-break
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedDate != out[j].PostedDate {
			return out[i].PostedDate > out[j].PostedDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindByHash implements store.ImportRecordStore.
func (s *Store) FindByHash(_ context.Context, fileHash string) (*domain.ImportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.imports[fileHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := rec
	return &out, nil
}

// Insert implements store.ImportRecordStore.
func (s *Store) Insert(_ context.Context, rec domain.ImportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.imports[rec.FileHash]; ok {
		// File hash is unique; keep the first record.
		return nil
	}
	s.imports[rec.FileHash] = rec
	return nil
}

func mappingKey(bankID, normalizedKey string) string { return bankID + "|" + normalizedKey }

// Find implements store.PayeeMappingStore.
func (s *Store) Find(_ context.Context, bankID, normalizedKey string) (*domain.PayeeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mappingKey(bankID, normalizedKey)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := m
	return &out, nil
}

// Upsert implements store.PayeeMappingStore.
func (s *Store) Upsert(_ context.Context, m domain.PayeeMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mappingKey(m.BankID, m.NormalizedKey)] = m
	return nil
}

// FindByBankTransaction implements store.ReconciliationStore.
func (s *Store) FindByBankTransaction(_ context.Context, bankTransactionID string) (*domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reconciliations {
		if r.BankTransactionID == bankTransactionID {
			out := r
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

// InsertReconciliation backs the Insert of store.ReconciliationStore; see
// the reconciliationStore wrapper.
func (s *Store) InsertReconciliation(_ context.Context, rec domain.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciliations[rec.ID] = rec
	return nil
}

// Delete implements store.ReconciliationStore.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reconciliations[id]; !ok {
		return store.NewStorageError("delete reconciliation", store.ErrNotFound)
	}
	delete(s.reconciliations, id)
	return nil
}

// ReconciledTransactionIDs implements store.ReconciliationStore.
func (s *Store) ReconciledTransactionIDs(_ context.Context, bankID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{})
	for _, r := range s.reconciliations {
		ids[r.BankTransactionID] = struct{}{}
	}
	return ids, nil
}
