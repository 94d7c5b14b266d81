// Package sqlite implements the store ports on an embedded SQLite database.
// It is the single-host persistence option; the firestore package covers the
// hosted deployment.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS postings (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	occurrence_date TEXT NOT NULL,
	amount          REAL NOT NULL,
	entity_id       TEXT NOT NULL DEFAULT '',
	entity_name     TEXT NOT NULL DEFAULT '',
	account_id      TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	settlement_date TEXT NOT NULL DEFAULT '',
	bank_id         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bank_transactions (
	id           TEXT PRIMARY KEY,
	bank_id      TEXT NOT NULL,
	posted_date  TEXT NOT NULL,
	amount       REAL NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	fitid        TEXT NOT NULL,
	check_number TEXT NOT NULL DEFAULT '',
	file_hash    TEXT NOT NULL DEFAULT '',
	raw          TEXT NOT NULL DEFAULT '',
	UNIQUE (bank_id, fitid)
);

CREATE TABLE IF NOT EXISTS import_records (
	id                 TEXT PRIMARY KEY,
	bank_id            TEXT NOT NULL,
	file_hash          TEXT NOT NULL UNIQUE,
	file_name          TEXT NOT NULL DEFAULT '',
	from_date          TEXT NOT NULL DEFAULT '',
	to_date            TEXT NOT NULL DEFAULT '',
	total_transactions INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payee_mappings (
	bank_id        TEXT NOT NULL,
	payee_key      TEXT NOT NULL DEFAULT '',
	normalized_key TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	confidence     REAL NOT NULL DEFAULT 1.0,
	PRIMARY KEY (bank_id, normalized_key)
);

CREATE TABLE IF NOT EXISTS reconciliations (
	id                  TEXT PRIMARY KEY,
	bank_transaction_id TEXT NOT NULL UNIQUE,
	posting_id          TEXT NOT NULL,
	match_type          TEXT NOT NULL,
	match_score         REAL NOT NULL DEFAULT 0,
	matched_amount      REAL NOT NULL DEFAULT 0,
	notes               TEXT NOT NULL DEFAULT ''
);
`

// DB wraps the SQLite handle and implements every store port.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Stores returns the port bundle backed by this database.
func (d *DB) Stores() store.Stores {
	return store.Stores{
		Postings:        d,
		Transactions:    d,
		Imports:         d,
		Mappings:        d,
		Reconciliations: reconciliationStore{d},
	}
}

// GetPosting implements store.PostingStore.
func (d *DB) GetPosting(ctx context.Context, id string) (*domain.Posting, error) {
	var p domain.Posting
	err := d.db.QueryRowContext(ctx, `
		SELECT id, status, occurrence_date, amount, entity_id, entity_name,
		       account_id, notes, settlement_date, bank_id
		FROM postings
		WHERE id = ?
	`, id).Scan(&p.ID, &p.Status, &p.OccurrenceDate, &p.Amount, &p.EntityID,
		&p.EntityName, &p.AccountID, &p.Notes, &p.SettlementDate, &p.BankID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query posting: %w", err)
	}
	return &p, nil
}

// Query implements store.PostingStore.
func (d *DB) Query(ctx context.Context, q store.PostingQuery) ([]domain.Posting, error) {
	query := `
		SELECT id, status, occurrence_date, amount, entity_id, entity_name,
		       account_id, notes, settlement_date, bank_id
		FROM postings
		WHERE amount BETWEEN ? AND ?
	`
	args := []any{q.AmountMin, q.AmountMax}

	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.DateFrom != "" {
		query += " AND occurrence_date >= ?"
		args = append(args, q.DateFrom)
	}
	if q.DateTo != "" {
		query += " AND occurrence_date <= ?"
		args = append(args, q.DateTo)
	}
	query += " ORDER BY occurrence_date, id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()

	var out []domain.Posting
	for rows.Next() {
		var p domain.Posting
		if err := rows.Scan(&p.ID, &p.Status, &p.OccurrenceDate, &p.Amount,
			&p.EntityID, &p.EntityName, &p.AccountID, &p.Notes,
			&p.SettlementDate, &p.BankID); err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Settle implements store.PostingStore.
func (d *DB) Settle(ctx context.Context, postingID, bankID, settlementDate string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE postings
		SET status = ?, bank_id = ?, settlement_date = ?
		WHERE id = ?
	`, string(domain.PostingSettled), bankID, settlementDate, postingID)
	if err != nil {
		return fmt.Errorf("failed to settle posting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to settle posting: %w", err)
	}
	if n == 0 {
		return store.NewStorageError("settle posting", store.ErrNotFound)
	}
	return nil
}

// InsertPosting stores a ledger posting. The ledger application owns posting
// writes; this exists for the batch importer and tests.
func (d *DB) InsertPosting(ctx context.Context, p domain.Posting) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO postings (id, status, occurrence_date, amount, entity_id,
		                      entity_name, account_id, notes, settlement_date, bank_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.Status), p.OccurrenceDate, p.Amount, p.EntityID,
		p.EntityName, p.AccountID, p.Notes, p.SettlementDate, p.BankID)
	if err != nil {
		return fmt.Errorf("failed to insert posting: %w", err)
	}
	return nil
}

// GetTransaction implements store.BankTransactionStore.
func (d *DB) GetTransaction(ctx context.Context, id string) (*domain.BankTransaction, error) {
	var t domain.BankTransaction
	err := d.db.QueryRowContext(ctx, `
		SELECT id, bank_id, posted_date, amount, description, fitid,
		       check_number, file_hash, raw
		FROM bank_transactions
		WHERE id = ?
	`, id).Scan(&t.ID, &t.BankID, &t.PostedDate, &t.Amount, &t.Description,
		&t.FITID, &t.CheckNumber, &t.FileHash, &t.Raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return &t, nil
}

// ExistingFITIDs implements store.BankTransactionStore.
func (d *DB) ExistingFITIDs(ctx context.Context, bankID string, fitIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(fitIDs) == 0 {
		return existing, nil
	}

	// One IN query per chunk keeps us under SQLite's bound-parameter limit.
	const chunkSize = 500
	for start := 0; start < len(fitIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(fitIDs) {
			end = len(fitIDs)
		}
		chunk := fitIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk)+1)
		args = append(args, bankID)
		for _, id := range chunk {
			args = append(args, id)
		}

		rows, err := d.db.QueryContext(ctx, `
			SELECT fitid FROM bank_transactions
			WHERE bank_id = ? AND fitid IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing FITIDs: %w", err)
		}
		for rows.Next() {
			var fitID string
			if err := rows.Scan(&fitID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan FITID: %w", err)
			}
			existing[fitID] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return existing, nil
}

// InsertMany implements store.BankTransactionStore.
func (d *DB) InsertMany(ctx context.Context, txns []domain.BankTransaction) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bank_transactions (id, bank_id, posted_date, amount,
		                               description, fitid, check_number, file_hash, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bank_id, fitid) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txns {
		if _, err := stmt.ExecContext(ctx, t.ID, t.BankID, t.PostedDate, t.Amount,
			t.Description, t.FITID, t.CheckNumber, t.FileHash, t.Raw); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", t.FITID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	return nil
}

// ListByBank implements store.BankTransactionStore.
func (d *DB) ListByBank(ctx context.Context, bankID, from, to string) ([]domain.BankTransaction, error) {
	query := `
		SELECT id, bank_id, posted_date, amount, description, fitid,
		       check_number, file_hash, raw
		FROM bank_transactions
		WHERE bank_id = ?
	`
	args := []any{bankID}
	if from != "" {
		query += " AND posted_date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND posted_date <= ?"
		args = append(args, to)
	}
	query += " ORDER BY posted_date DESC, id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.BankTransaction
	for rows.Next() {
		var t domain.BankTransaction
		if err := rows.Scan(&t.ID, &t.BankID, &t.PostedDate, &t.Amount,
			&t.Description, &t.FITID, &t.CheckNumber, &t.FileHash, &t.Raw); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindByHash implements store.ImportRecordStore.
func (d *DB) FindByHash(ctx context.Context, fileHash string) (*domain.ImportRecord, error) {
	var rec domain.ImportRecord
	err := d.db.QueryRowContext(ctx, `
		SELECT id, bank_id, file_hash, file_name, from_date, to_date,
		       total_transactions, status
		FROM import_records
		WHERE file_hash = ?
	`, fileHash).Scan(&rec.ID, &rec.BankID, &rec.FileHash, &rec.FileName,
		&rec.FromDate, &rec.ToDate, &rec.TotalTransactions, &rec.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query import record: %w", err)
	}
	return &rec, nil
}

// Insert implements store.ImportRecordStore.
func (d *DB) Insert(ctx context.Context, rec domain.ImportRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO import_records (id, bank_id, file_hash, file_name,
		                            from_date, to_date, total_transactions, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_hash) DO NOTHING
	`, rec.ID, rec.BankID, rec.FileHash, rec.FileName, rec.FromDate,
		rec.ToDate, rec.TotalTransactions, string(rec.Status))
	if err != nil {
		return fmt.Errorf("failed to insert import record: %w", err)
	}
	return nil
}

// Find implements store.PayeeMappingStore.
func (d *DB) Find(ctx context.Context, bankID, normalizedKey string) (*domain.PayeeMapping, error) {
	var m domain.PayeeMapping
	err := d.db.QueryRowContext(ctx, `
		SELECT bank_id, payee_key, normalized_key, entity_id, confidence
		FROM payee_mappings
		WHERE bank_id = ? AND normalized_key = ?
	`, bankID, normalizedKey).Scan(&m.BankID, &m.PayeeKey, &m.NormalizedKey,
		&m.EntityID, &m.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query payee mapping: %w", err)
	}
	return &m, nil
}

// Upsert implements store.PayeeMappingStore.
func (d *DB) Upsert(ctx context.Context, m domain.PayeeMapping) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO payee_mappings (bank_id, payee_key, normalized_key, entity_id, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bank_id, normalized_key) DO UPDATE SET
			payee_key = excluded.payee_key,
			entity_id = excluded.entity_id,
			confidence = excluded.confidence
	`, m.BankID, m.PayeeKey, m.NormalizedKey, m.EntityID, m.Confidence)
	if err != nil {
		return fmt.Errorf("failed to upsert payee mapping: %w", err)
	}
	return nil
}

// FindByBankTransaction implements store.ReconciliationStore.
func (d *DB) FindByBankTransaction(ctx context.Context, bankTransactionID string) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := d.db.QueryRowContext(ctx, `
		SELECT id, bank_transaction_id, posting_id, match_type, match_score,
		       matched_amount, notes
		FROM reconciliations
		WHERE bank_transaction_id = ?
	`, bankTransactionID).Scan(&rec.ID, &rec.BankTransactionID, &rec.PostingID,
		&rec.MatchType, &rec.MatchScore, &rec.MatchedAmount, &rec.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation: %w", err)
	}
	return &rec, nil
}

// InsertReconciliation backs the Insert of store.ReconciliationStore; see
// the reconciliationStore wrapper.
func (d *DB) InsertReconciliation(ctx context.Context, rec domain.Reconciliation) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO reconciliations (id, bank_transaction_id, posting_id,
		                             match_type, match_score, matched_amount, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.BankTransactionID, rec.PostingID, string(rec.MatchType),
		rec.MatchScore, rec.MatchedAmount, rec.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation: %w", err)
	}
	return nil
}

// Delete implements store.ReconciliationStore.
func (d *DB) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM reconciliations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reconciliation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete reconciliation: %w", err)
	}
	if n == 0 {
		return store.NewStorageError("delete reconciliation", store.ErrNotFound)
	}
	return nil
}

// ReconciledTransactionIDs implements store.ReconciliationStore.
func (d *DB) ReconciledTransactionIDs(ctx context.Context, bankID string) (map[string]struct{}, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.bank_transaction_id
		FROM reconciliations r
		JOIN bank_transactions t ON t.id = r.bank_transaction_id
		WHERE t.bank_id = ?
	`, bankID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciled transactions: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// reconciliationStore resolves the Insert name clash between
// ImportRecordStore and ReconciliationStore on the shared DB receiver.
type reconciliationStore struct{ *DB }

func (r reconciliationStore) Insert(ctx context.Context, rec domain.Reconciliation) error {
	return r.InsertReconciliation(ctx, rec)
}
