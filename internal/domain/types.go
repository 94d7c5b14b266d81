// Package domain defines the typed records shared by the reconciliation core.
package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date wire format used across the module.
// All statement and posting dates are day-precision; time of day is never stored.
const DateLayout = "2006-01-02"

// PostingStatus represents the ledger posting lifecycle.
// Use ValidatePostingStatus to ensure validity before use.
type PostingStatus string

const (
	PostingPending PostingStatus = "PENDING"
	PostingSettled PostingStatus = "SETTLED"
)

// MatchType records how a reconciliation was produced.
type MatchType string

const (
	MatchAuto   MatchType = "AUTO"
	MatchManual MatchType = "MANUAL"
)

// ImportStatus represents the outcome recorded on an import row.
type ImportStatus string

const (
	ImportStatusImported ImportStatus = "IMPORTED"
	ImportStatusPartial  ImportStatus = "PARTIAL"
	ImportStatusError    ImportStatus = "ERROR"
)

var (
	validPostingStatuses = map[PostingStatus]struct{}{
		PostingPending: {}, PostingSettled: {},
	}

	validMatchTypes = map[MatchType]struct{}{
		MatchAuto: {}, MatchManual: {},
	}

	validImportStatuses = map[ImportStatus]struct{}{
		ImportStatusImported: {}, ImportStatusPartial: {}, ImportStatusError: {},
	}
)

// ValidatePostingStatus checks if status is valid
func ValidatePostingStatus(s PostingStatus) bool {
	_, ok := validPostingStatuses[s]
	return ok
}

// ValidateMatchType checks if match type is valid
func ValidateMatchType(m MatchType) bool {
	_, ok := validMatchTypes[m]
	return ok
}

// ValidateImportStatus checks if import status is valid
func ValidateImportStatus(s ImportStatus) bool {
	_, ok := validImportStatuses[s]
	return ok
}

// BankTransaction is one line of an imported bank statement.
// Sign convention:
//
//	Negative = debit (money leaving the bank account)
//	Positive = credit (money entering the bank account)
//
// Rows are created in bulk during an import and never mutated afterwards.
// The pair (BankID, FITID) is the dedup key and must be unique per bank.
type BankTransaction struct {
	ID          string  `json:"id"`
	BankID      string  `json:"bankId"`
	PostedDate  string  `json:"postedDate"` // YYYY-MM-DD
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	FITID       string  `json:"fitId"`
	CheckNumber string  `json:"checkNumber,omitempty"`
	FileHash    string  `json:"fileHash"`
	// Raw preserves the original statement fragment for audit and debugging.
	Raw string `json:"raw,omitempty"`
}

// NewBankTransaction creates a validated bank transaction
func NewBankTransaction(id, bankID, postedDate string, amount float64, description, fitID string) (*BankTransaction, error) {
	if id == "" {
		return nil, fmt.Errorf("bank transaction ID cannot be empty")
	}
	if bankID == "" {
		return nil, fmt.Errorf("bank ID cannot be empty")
	}
	if _, err := time.Parse(DateLayout, postedDate); err != nil {
		return nil, fmt.Errorf("invalid posted date format: %w", err)
	}
	if fitID == "" {
		return nil, fmt.Errorf("FITID cannot be empty (synthesize one before constructing)")
	}

	return &BankTransaction{
		ID:          id,
		BankID:      bankID,
		PostedDate:  postedDate,
		Amount:      amount,
		Description: description,
		FITID:       fitID,
	}, nil
}

// PostedAt returns the posted date as a time value. The zero time is returned
// for a malformed date, which NewBankTransaction makes unreachable.
func (t *BankTransaction) PostedAt() time.Time {
	d, _ := time.Parse(DateLayout, t.PostedDate)
	return d
}

// ImportRecord is one audit row per distinct uploaded statement file.
// FileHash is unique across the store; a re-upload of an identical file
// must find the existing row rather than create a second one.
type ImportRecord struct {
	ID                string       `json:"id"`
	BankID            string       `json:"bankId"`
	FileHash          string       `json:"fileHash"`
	FileName          string       `json:"fileName"`
	FromDate          string       `json:"fromDate,omitempty"` // YYYY-MM-DD, empty when the statement omits a range
	ToDate            string       `json:"toDate,omitempty"`
	TotalTransactions int          `json:"totalTransactions"`
	Status            ImportStatus `json:"status"`
}

// NewImportRecord creates a validated import record
func NewImportRecord(id, bankID, fileHash, fileName string, total int) (*ImportRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("import record ID cannot be empty")
	}
	if bankID == "" {
		return nil, fmt.Errorf("bank ID cannot be empty")
	}
	if fileHash == "" {
		return nil, fmt.Errorf("file hash cannot be empty")
	}
	if total < 0 {
		return nil, fmt.Errorf("total transactions cannot be negative, got %d", total)
	}

	return &ImportRecord{
		ID:                id,
		BankID:            bankID,
		FileHash:          fileHash,
		FileName:          fileName,
		TotalTransactions: total,
		Status:            ImportStatusImported,
	}, nil
}

// Posting is a ledger entry. The reconciliation core reads postings and
// writes exactly three fields when settling: Status, BankID and
// SettlementDate. Everything else belongs to the ledger application.
type Posting struct {
	ID             string        `json:"id"`
	Status         PostingStatus `json:"status"`
	OccurrenceDate string        `json:"occurrenceDate"` // YYYY-MM-DD
	Amount         float64       `json:"amount"`         // unsigned
	EntityID       string        `json:"entityId,omitempty"`
	EntityName     string        `json:"entityName,omitempty"`
	AccountID      string        `json:"accountId,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	SettlementDate string        `json:"settlementDate,omitempty"`
	BankID         string        `json:"bankId,omitempty"`
}

// NewPosting creates a validated posting
func NewPosting(id string, status PostingStatus, occurrenceDate string, amount float64) (*Posting, error) {
	if id == "" {
		return nil, fmt.Errorf("posting ID cannot be empty")
	}
	if !ValidatePostingStatus(status) {
		return nil, fmt.Errorf("invalid posting status: %s", status)
	}
	if _, err := time.Parse(DateLayout, occurrenceDate); err != nil {
		return nil, fmt.Errorf("invalid occurrence date format: %w", err)
	}
	if amount < 0 {
		return nil, fmt.Errorf("posting amount must be unsigned, got %f", amount)
	}

	return &Posting{
		ID:             id,
		Status:         status,
		OccurrenceDate: occurrenceDate,
		Amount:         amount,
	}, nil
}

// OccurredAt returns the occurrence date as a time value.
func (p *Posting) OccurredAt() time.Time {
	d, _ := time.Parse(DateLayout, p.OccurrenceDate)
	return d
}

// Reconciliation links exactly one bank transaction to exactly one posting.
// The committer enforces at most one reconciliation per bank transaction;
// there is no database constraint backing this, it is a workflow contract.
type Reconciliation struct {
	ID                string    `json:"id"`
	BankTransactionID string    `json:"bankTransactionId"`
	PostingID         string    `json:"postingId"`
	MatchType         MatchType `json:"matchType"`
	MatchScore        float64   `json:"matchScore"`
	MatchedAmount     float64   `json:"matchedAmount"`
	Notes             string    `json:"notes,omitempty"`
}

// NewReconciliation creates a validated reconciliation link
func NewReconciliation(id, bankTransactionID, postingID string, matchType MatchType) (*Reconciliation, error) {
	if id == "" {
		return nil, fmt.Errorf("reconciliation ID cannot be empty")
	}
	if bankTransactionID == "" {
		return nil, fmt.Errorf("bank transaction ID cannot be empty")
	}
	if postingID == "" {
		return nil, fmt.Errorf("posting ID cannot be empty")
	}
	if !ValidateMatchType(matchType) {
		return nil, fmt.Errorf("invalid match type: %s", matchType)
	}

	return &Reconciliation{
		ID:                id,
		BankTransactionID: bankTransactionID,
		PostingID:         postingID,
		MatchType:         matchType,
	}, nil
}

// PayeeMapping is a learned association from a bank's raw description string
// to an entity, scoped per bank. Unique per (BankID, NormalizedKey).
type PayeeMapping struct {
	BankID string `json:"bankId"`
	// PayeeKey is the raw description as it appeared on the statement.
	PayeeKey string `json:"payeeKey"`
	// NormalizedKey is the uniqueness key: PayeeKey lowercased, trimmed and
	// stripped of diacritics (see transform.NormalizeDescription).
	NormalizedKey string  `json:"normalizedKey"`
	EntityID      string  `json:"entityId"`
	Confidence    float64 `json:"confidence"`
}

// NewPayeeMapping creates a validated payee mapping
func NewPayeeMapping(bankID, payeeKey, normalizedKey, entityID string) (*PayeeMapping, error) {
	if bankID == "" {
		return nil, fmt.Errorf("bank ID cannot be empty")
	}
	if normalizedKey == "" {
		return nil, fmt.Errorf("normalized payee key cannot be empty")
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity ID cannot be empty")
	}

	return &PayeeMapping{
		BankID:        bankID,
		PayeeKey:      payeeKey,
		NormalizedKey: normalizedKey,
		EntityID:      entityID,
		Confidence:    1.0,
	}, nil
}
