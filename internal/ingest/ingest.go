// Package ingest turns a raw statement file into stored bank transactions.
//
// The flow is decode, fingerprint, parse, dedup, persist. Persistence is
// ordered so that a crash mid-import leaves the system re-importable rather
// than corrupted: the import record is written before the transaction rows,
// and the FITID dedup key makes a retried insert a no-op.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/fingerprint"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/ofx"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
)

var (
	// ErrDecode reports a file whose bytes could not be decoded to text.
	ErrDecode = errors.New("statement file could not be decoded")

	// ErrNoTransactions reports a file that decoded and parsed but yielded
	// zero usable transaction records.
	ErrNoTransactions = errors.New("no transactions found in statement file")
)

// Result is the outcome of one import. Duplicate marks a file whose hash was
// seen before and whose transactions were all already stored; otherwise the
// counts describe what the import did.
type Result struct {
	ImportID  string `json:"importId"`
	FileHash  string `json:"fileHash"`
	FromDate  string `json:"fromDate,omitempty"`
	ToDate    string `json:"toDate,omitempty"`
	Total     int    `json:"total"`
	New       int    `json:"new"`
	Existing  int    `json:"existing"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Ingestor imports OFX statement files for one storage backend.
type Ingestor struct {
	stores store.Stores
}

// New creates an Ingestor over the given stores.
func New(stores store.Stores) *Ingestor {
	return &Ingestor{stores: stores}
}

// Import ingests one statement file for a bank. fileName is recorded for
// audit only; raw is the file's bytes as uploaded.
func (in *Ingestor) Import(ctx context.Context, bankID, fileName string, raw []byte) (*Result, error) {
	if bankID == "" {
		return nil, fmt.Errorf("bank ID cannot be empty")
	}

	text, err := decodeStatement(raw)
	if err != nil {
		return nil, err
	}

	fileHash := fingerprint.FileHash(text)

	// A repeated file hash is informational, not a hard stop. The FITID key
	// is what actually prevents duplicate rows, so re-running an upload can
	// never double-store a transaction.
	priorImport, err := in.stores.Imports.FindByHash(ctx, fileHash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking file hash: %w", err)
	}
	if priorImport != nil {
		log.Printf("INFO: file %s matches earlier import %s, relying on transaction-level dedup", fileName, priorImport.ID)
	}

	stmt := ofx.Parse(text)
	if len(stmt.Transactions) == 0 {
		if recErr := in.recordImport(ctx, priorImport, bankID, fileHash, fileName, stmt, 0, domain.ImportStatusError); recErr != nil {
			log.Printf("ERROR: recording failed import of %s: %v", fileName, recErr)
		}
		return nil, ErrNoTransactions
	}

	txns, err := in.buildTransactions(bankID, fileHash, stmt.Transactions)
	if err != nil {
		return nil, err
	}

	fresh, existing, err := in.partition(ctx, bankID, txns)
	if err != nil {
		return nil, err
	}

	if priorImport != nil && len(fresh) == 0 {
		return &Result{
			ImportID:  priorImport.ID,
			FileHash:  fileHash,
			FromDate:  stmt.FromDate,
			ToDate:    stmt.ToDate,
			Total:     len(txns),
			Existing:  len(existing),
			Duplicate: true,
			Message:   fmt.Sprintf("%s was already imported and carries no new transactions", fileName),
		}, nil
	}

	status := domain.ImportStatusImported
	if len(existing) > 0 {
		status = domain.ImportStatusPartial
	}

	rec, err := in.recordImportNew(ctx, priorImport, bankID, fileHash, fileName, stmt, len(txns), status)
	if err != nil {
		return nil, fmt.Errorf("recording import: %w", err)
	}

	if len(fresh) > 0 {
		if err := in.stores.Transactions.InsertMany(ctx, fresh); err != nil {
			return nil, fmt.Errorf("storing transactions: %w", err)
		}
	}

	log.Printf("INFO: imported %s for bank %s: %d total, %d new, %d existing",
		fileName, bankID, len(txns), len(fresh), len(existing))

	return &Result{
		ImportID: rec.ID,
		FileHash: fileHash,
		FromDate: stmt.FromDate,
		ToDate:   stmt.ToDate,
		Total:    len(txns),
		New:      len(fresh),
		Existing: len(existing),
	}, nil
}

// decodeStatement turns file bytes into text. Valid UTF-8 passes through;
// anything else is treated as windows-1252, the encoding Brazilian banks
// actually ship.
func decodeStatement(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrDecode
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return string(decoded), nil
}

// buildTransactions converts parsed records into domain transactions,
// synthesizing FITIDs where the statement omitted them.
func (in *Ingestor) buildTransactions(bankID, fileHash string, parsed []ofx.Transaction) ([]domain.BankTransaction, error) {
	txns := make([]domain.BankTransaction, 0, len(parsed))
	for _, p := range parsed {
		fitID := strings.TrimSpace(p.FITID)
		if fitID == "" {
			fitID = fingerprint.SyntheticFITID(bankID, p.PostedDate, p.Amount, p.Memo)
		}

		txn, err := domain.NewBankTransaction(uuid.NewString(), bankID, p.PostedDate, p.Amount, p.Memo, fitID)
		if err != nil {
			return nil, fmt.Errorf("building transaction: %w", err)
		}
		txn.CheckNumber = p.CheckNumber
		txn.FileHash = fileHash
		txn.Raw = p.Raw
		txns = append(txns, *txn)
	}
	return txns, nil
}

// partition splits transactions into fresh and already-stored by one batched
// FITID lookup.
func (in *Ingestor) partition(ctx context.Context, bankID string, txns []domain.BankTransaction) (fresh, existing []domain.BankTransaction, err error) {
	fitIDs := make([]string, 0, len(txns))
	for _, t := range txns {
		fitIDs = append(fitIDs, t.FITID)
	}

	stored, err := in.stores.Transactions.ExistingFITIDs(ctx, bankID, fitIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("checking existing transactions: %w", err)
	}

	seen := make(map[string]struct{}, len(txns))
	for _, t := range txns {
		if _, dup := seen[t.FITID]; dup {
			// Same FITID twice within one file counts once.
			existing = append(existing, t)
			continue
		}
		seen[t.FITID] = struct{}{}

		if _, ok := stored[t.FITID]; ok {
			existing = append(existing, t)
		} else {
			fresh = append(fresh, t)
		}
	}
	return fresh, existing, nil
}

// recordImportNew writes the import record unless this file hash already has
// one, in which case the prior record is returned unchanged.
func (in *Ingestor) recordImportNew(ctx context.Context, prior *domain.ImportRecord, bankID, fileHash, fileName string, stmt *ofx.Statement, total int, status domain.ImportStatus) (*domain.ImportRecord, error) {
	if prior != nil {
		return prior, nil
	}
	rec, err := domain.NewImportRecord(uuid.NewString(), bankID, fileHash, fileName, total)
	if err != nil {
		return nil, err
	}
	rec.FromDate = stmt.FromDate
	rec.ToDate = stmt.ToDate
	rec.Status = status
	if err := in.stores.Imports.Insert(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// recordImport is recordImportNew for the error path, where the return value
// is not needed.
func (in *Ingestor) recordImport(ctx context.Context, prior *domain.ImportRecord, bankID, fileHash, fileName string, stmt *ofx.Statement, total int, status domain.ImportStatus) error {
	_, err := in.recordImportNew(ctx, prior, bankID, fileHash, fileName, stmt, total, status)
	return err
}
