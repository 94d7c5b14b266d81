// Package reconcile commits and removes the links between bank transactions
// and ledger postings.
//
// Commit ordering matters: the link row is written before the posting is
// settled. If the settle write then fails, the system is left with a link and
// a still-pending posting, which review surfaces; the opposite order could
// silently settle a posting with no record of why.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/transform"
)

// ErrAlreadyReconciled reports a bank transaction that already has a link.
var ErrAlreadyReconciled = errors.New("bank transaction is already reconciled")

// Committer performs the reconciliation write sequence.
type Committer struct {
	stores store.Stores
}

// NewCommitter creates a Committer over the given stores.
func NewCommitter(stores store.Stores) *Committer {
	return &Committer{stores: stores}
}

// Commit links txn to posting, settles the posting, and learns the payee
// mapping. score is the match score being accepted; note is free-form
// reviewer text.
//
// A transaction may be reconciled at most once; a second Commit returns
// ErrAlreadyReconciled. The posting is only flipped when still PENDING, so
// committing against an externally-settled posting records the link without
// rewriting settlement fields.
func (c *Committer) Commit(ctx context.Context, txn domain.BankTransaction, posting domain.Posting, matchType domain.MatchType, score float64, note string) (*domain.Reconciliation, error) {
	prior, err := c.stores.Reconciliations.FindByBankTransaction(ctx, txn.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing reconciliation: %w", err)
	}
	if prior != nil {
		return nil, fmt.Errorf("%w: transaction %s is linked to posting %s", ErrAlreadyReconciled, txn.ID, prior.PostingID)
	}

	rec, err := domain.NewReconciliation(uuid.NewString(), txn.ID, posting.ID, matchType)
	if err != nil {
		return nil, err
	}
	rec.MatchScore = score
	rec.MatchedAmount = posting.Amount
	rec.Notes = note

	if err := c.stores.Reconciliations.Insert(ctx, *rec); err != nil {
		return nil, fmt.Errorf("storing reconciliation: %w", err)
	}

	if posting.Status == domain.PostingPending {
		if err := c.stores.Postings.Settle(ctx, posting.ID, txn.BankID, txn.PostedDate); err != nil {
			return nil, fmt.Errorf("settling posting %s: %w", posting.ID, err)
		}
	} else {
		log.Printf("INFO: posting %s already settled, linking without settlement update", posting.ID)
	}

	c.learnMapping(ctx, txn, posting)

	log.Printf("INFO: reconciled transaction %s with posting %s (%s, score %.1f)",
		txn.ID, posting.ID, matchType, score)
	return rec, nil
}

// learnMapping upserts the payee mapping for this transaction's description.
// Mapping failures are logged, never fatal: the reconciliation itself has
// already been committed.
func (c *Committer) learnMapping(ctx context.Context, txn domain.BankTransaction, posting domain.Posting) {
	if posting.EntityID == "" {
		return
	}
	key := transform.NormalizeDescription(txn.Description)
	if key == "" {
		return
	}

	m, err := domain.NewPayeeMapping(txn.BankID, txn.Description, key, posting.EntityID)
	if err != nil {
		log.Printf("ERROR: building payee mapping for %q: %v", txn.Description, err)
		return
	}
	if err := c.stores.Mappings.Upsert(ctx, *m); err != nil {
		log.Printf("ERROR: storing payee mapping for %q: %v", txn.Description, err)
	}
}

// Delete removes a reconciliation link by id. The posting stays settled; the
// ledger owns un-settling.
func (c *Committer) Delete(ctx context.Context, id string) error {
	if err := c.stores.Reconciliations.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting reconciliation %s: %w", id, err)
	}
	log.Printf("INFO: deleted reconciliation %s", id)
	return nil
}
