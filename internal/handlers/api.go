package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/config"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/match"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/reconcile"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
)

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// APIHandler handles the reconciliation API requests.
type APIHandler struct {
	stores    store.Stores
	finder    *match.Finder
	committer *reconcile.Committer
	windows   config.MatchConfig
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(stores store.Stores, finder *match.Finder, committer *reconcile.Committer, windows config.MatchConfig) *APIHandler {
	return &APIHandler{
		stores:    stores,
		finder:    finder,
		committer: committer,
		windows:   windows,
	}
}

// transactionRow is a bank transaction plus its reconciliation state, as
// listed in review UIs.
type transactionRow struct {
	domain.BankTransaction
	Reconciled bool `json:"reconciled"`
}

// ListTransactions handles GET /api/banks/{bankId}/transactions
func (h *APIHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	bankID := r.PathValue("bankId")
	if bankID == "" {
		http.Error(w, "Missing bank id", http.StatusBadRequest)
		return
	}

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	txns, err := h.stores.Transactions.ListByBank(r.Context(), bankID, from, to)
	if err != nil {
		log.Printf("ERROR: listing transactions for bank %s: %v", bankID, err)
		http.Error(w, "Failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	reconciled, err := h.stores.Reconciliations.ReconciledTransactionIDs(r.Context(), bankID)
	if err != nil {
		log.Printf("ERROR: listing reconciled transactions for bank %s: %v", bankID, err)
		http.Error(w, "Failed to fetch reconciliations", http.StatusInternalServerError)
		return
	}

	rows := make([]transactionRow, 0, len(txns))
	for _, t := range txns {
		_, done := reconciled[t.ID]
		rows = append(rows, transactionRow{BankTransaction: t, Reconciled: done})
	}

	writeJSON(w, rows)
}

// GetCandidates handles GET /api/transactions/{id}/candidates
// The optional window=strict query parameter selects the tight preset.
func (h *APIHandler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	txnID := r.PathValue("id")

	txn, err := h.stores.Transactions.GetTransaction(r.Context(), txnID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ERROR: fetching transaction %s: %v", txnID, err)
		http.Error(w, "Failed to fetch transaction", http.StatusInternalServerError)
		return
	}

	window := h.windows.DefaultWindow.Window()
	if r.URL.Query().Get("window") == "strict" {
		window = h.windows.StrictWindow.Window()
	}

	candidates, err := h.finder.FindCandidates(r.Context(), *txn, window)
	if err != nil {
		log.Printf("ERROR: finding candidates for transaction %s: %v", txnID, err)
		http.Error(w, "Failed to find candidates", http.StatusInternalServerError)
		return
	}
	if candidates == nil {
		candidates = []match.Candidate{}
	}

	writeJSON(w, candidates)
}

// reconcileRequest is the body of POST /api/reconciliations.
type reconcileRequest struct {
	BankTransactionID string  `json:"bankTransactionId"`
	PostingID         string  `json:"postingId"`
	MatchType         string  `json:"matchType"`
	MatchScore        float64 `json:"matchScore"`
	Notes             string  `json:"notes"`
}

// CreateReconciliation handles POST /api/reconciliations
func (h *APIHandler) CreateReconciliation(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	matchType := domain.MatchType(req.MatchType)
	if !domain.ValidateMatchType(matchType) {
		http.Error(w, "Invalid match type", http.StatusBadRequest)
		return
	}

	txn, err := h.stores.Transactions.GetTransaction(r.Context(), req.BankTransactionID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ERROR: fetching transaction %s: %v", req.BankTransactionID, err)
		http.Error(w, "Failed to fetch transaction", http.StatusInternalServerError)
		return
	}

	posting, err := h.stores.Postings.GetPosting(r.Context(), req.PostingID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Posting not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ERROR: fetching posting %s: %v", req.PostingID, err)
		http.Error(w, "Failed to fetch posting", http.StatusInternalServerError)
		return
	}

	rec, err := h.committer.Commit(r.Context(), *txn, *posting, matchType, req.MatchScore, req.Notes)
	if errors.Is(err, reconcile.ErrAlreadyReconciled) {
		http.Error(w, "Transaction is already reconciled", http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("ERROR: committing reconciliation: %v", err)
		http.Error(w, "Failed to commit reconciliation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		log.Printf("ERROR: encoding reconciliation %s: %v", rec.ID, err)
	}
}

// DeleteReconciliation handles DELETE /api/reconciliations/{id}
func (h *APIHandler) DeleteReconciliation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.committer.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Reconciliation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ERROR: deleting reconciliation %s: %v", id, err)
		http.Error(w, "Failed to delete reconciliation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: encoding response: %v", err)
	}
}
