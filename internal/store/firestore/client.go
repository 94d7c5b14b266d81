// Package firestore implements the store ports on Cloud Firestore, for the
// hosted deployment. The Auth client is exposed for the HTTP middleware.
package firestore

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
)

// Collection names. The recon- prefix keeps this app's documents apart from
// the ledger application sharing the project.
const (
	colPostings        = "recon-postings"
	colTransactions    = "recon-bank-transactions"
	colImports         = "recon-imports"
	colMappings        = "recon-payee-mappings"
	colReconciliations = "recon-reconciliations"
)

// Client wraps the Firestore client with reconciliation-specific operations.
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient creates a Firestore-backed store client. credentialsFile may be
// empty, in which case Application Default Credentials apply.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client.
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// Stores returns the port bundle backed by this client.
func (c *Client) Stores() store.Stores {
	return store.Stores{
		Postings:        c,
		Transactions:    c,
		Imports:         c,
		Mappings:        c,
		Reconciliations: reconciliationStore{c},
	}
}

// postingDoc is the Firestore shape of a domain.Posting.
type postingDoc struct {
	ID             string  `firestore:"id"`
	Status         string  `firestore:"status"`
	OccurrenceDate string  `firestore:"occurrenceDate"`
	Amount         float64 `firestore:"amount"`
	EntityID       string  `firestore:"entityId"`
	EntityName     string  `firestore:"entityName"`
	AccountID      string  `firestore:"accountId"`
	Notes          string  `firestore:"notes"`
	SettlementDate string  `firestore:"settlementDate"`
	BankID         string  `firestore:"bankId"`
}

func (d postingDoc) domain() domain.Posting {
	return domain.Posting{
		ID:             d.ID,
		Status:         domain.PostingStatus(d.Status),
		OccurrenceDate: d.OccurrenceDate,
		Amount:         d.Amount,
		EntityID:       d.EntityID,
		EntityName:     d.EntityName,
		AccountID:      d.AccountID,
		Notes:          d.Notes,
		SettlementDate: d.SettlementDate,
		BankID:         d.BankID,
	}
}

// GetPosting implements store.PostingStore.
func (c *Client) GetPosting(ctx context.Context, id string) (*domain.Posting, error) {
	doc, err := c.Firestore.Collection(colPostings).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get posting: %w", err)
	}

	var pd postingDoc
	if err := doc.DataTo(&pd); err != nil {
		return nil, fmt.Errorf("failed to parse posting: %w", err)
	}
	p := pd.domain()
	return &p, nil
}

// Query implements store.PostingStore. Firestore allows range filters on one
// field only, so the query ranges on amount and the date bounds are applied
// client-side.
func (c *Client) Query(ctx context.Context, q store.PostingQuery) ([]domain.Posting, error) {
	fsQuery := c.Firestore.Collection(colPostings).
		Where("amount", ">=", q.AmountMin).
		Where("amount", "<=", q.AmountMax)
	if q.Status != "" {
		fsQuery = fsQuery.Where("status", "==", string(q.Status))
	}

	iter := fsQuery.Documents(ctx)
	defer iter.Stop()

	var out []domain.Posting
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate postings: %w", err)
		}

		var pd postingDoc
		if err := doc.DataTo(&pd); err != nil {
			return nil, fmt.Errorf("failed to parse posting: %w", err)
		}
		if q.DateFrom != "" && pd.OccurrenceDate < q.DateFrom {
			continue
		}
		if q.DateTo != "" && pd.OccurrenceDate > q.DateTo {
			continue
		}
		out = append(out, pd.domain())
	}
	return out, nil
}

// Settle implements store.PostingStore.
func (c *Client) Settle(ctx context.Context, postingID, bankID, settlementDate string) error {
	_, err := c.Firestore.Collection(colPostings).Doc(postingID).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(domain.PostingSettled)},
		{Path: "bankId", Value: bankID},
		{Path: "settlementDate", Value: settlementDate},
	})
	if status.Code(err) == codes.NotFound {
		return store.NewStorageError("settle posting", store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to settle posting %s: %w", postingID, err)
	}
	return nil
}

// transactionDoc is the Firestore shape of a domain.BankTransaction.
type transactionDoc struct {
	ID          string  `firestore:"id"`
	BankID      string  `firestore:"bankId"`
	PostedDate  string  `firestore:"postedDate"`
	Amount      float64 `firestore:"amount"`
	Description string  `firestore:"description"`
	FITID       string  `firestore:"fitId"`
	CheckNumber string  `firestore:"checkNumber"`
	FileHash    string  `firestore:"fileHash"`
	Raw         string  `firestore:"raw"`
}

// txnDocID builds the document id from the dedup key, making duplicate
// inserts overwrite instead of multiply.
func txnDocID(bankID, fitID string) string {
	return sanitizeDocID(bankID + "__" + fitID)
}

// sanitizeDocID replaces characters Firestore forbids in document ids.
func sanitizeDocID(id string) string {
	return strings.ReplaceAll(id, "/", "_")
}

// GetTransaction implements store.BankTransactionStore. Documents are keyed
// by the dedup key rather than the row id, so this is a query.
func (c *Client) GetTransaction(ctx context.Context, id string) (*domain.BankTransaction, error) {
	iter := c.Firestore.Collection(colTransactions).
		Where("id", "==", id).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}

	var td transactionDoc
	if err := doc.DataTo(&td); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	return &domain.BankTransaction{
		ID:          td.ID,
		BankID:      td.BankID,
		PostedDate:  td.PostedDate,
		Amount:      td.Amount,
		Description: td.Description,
		FITID:       td.FITID,
		CheckNumber: td.CheckNumber,
		FileHash:    td.FileHash,
		Raw:         td.Raw,
	}, nil
}

// ExistingFITIDs implements store.BankTransactionStore. Lookups go by
// document id, which encodes the dedup key, in batches via GetAll.
func (c *Client) ExistingFITIDs(ctx context.Context, bankID string, fitIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(fitIDs) == 0 {
		return existing, nil
	}

	refs := make([]*firestore.DocumentRef, 0, len(fitIDs))
	byRefID := make(map[string]string, len(fitIDs))
	for _, fitID := range fitIDs {
		ref := c.Firestore.Collection(colTransactions).Doc(txnDocID(bankID, fitID))
		refs = append(refs, ref)
		byRefID[ref.ID] = fitID
	}

	snaps, err := c.Firestore.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing FITIDs: %w", err)
	}
	for _, snap := range snaps {
		if snap.Exists() {
			existing[byRefID[snap.Ref.ID]] = struct{}{}
		}
	}
	return existing, nil
}

// InsertMany implements store.BankTransactionStore.
func (c *Client) InsertMany(ctx context.Context, txns []domain.BankTransaction) error {
	bw := c.Firestore.BulkWriter(ctx)
	for _, t := range txns {
		doc := transactionDoc{
			ID:          t.ID,
			BankID:      t.BankID,
			PostedDate:  t.PostedDate,
			Amount:      t.Amount,
			Description: t.Description,
			FITID:       t.FITID,
			CheckNumber: t.CheckNumber,
			FileHash:    t.FileHash,
			Raw:         t.Raw,
		}
		ref := c.Firestore.Collection(colTransactions).Doc(txnDocID(t.BankID, t.FITID))
		if _, err := bw.Set(ref, doc); err != nil {
			return fmt.Errorf("failed to queue transaction %s: %w", t.FITID, err)
		}
	}
	bw.End()
	return nil
}

// ListByBank implements store.BankTransactionStore.
func (c *Client) ListByBank(ctx context.Context, bankID, from, to string) ([]domain.BankTransaction, error) {
	fsQuery := c.Firestore.Collection(colTransactions).
		Where("bankId", "==", bankID).
		OrderBy("postedDate", firestore.Desc)
	if from != "" {
		fsQuery = fsQuery.Where("postedDate", ">=", from)
	}
	if to != "" {
		fsQuery = fsQuery.Where("postedDate", "<=", to)
	}

	iter := fsQuery.Documents(ctx)
	defer iter.Stop()

	var out []domain.BankTransaction
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions for bank %s: %w", bankID, err)
		}

		var td transactionDoc
		if err := doc.DataTo(&td); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		out = append(out, domain.BankTransaction{
			ID:          td.ID,
			BankID:      td.BankID,
			PostedDate:  td.PostedDate,
			Amount:      td.Amount,
			Description: td.Description,
			FITID:       td.FITID,
			CheckNumber: td.CheckNumber,
			FileHash:    td.FileHash,
			Raw:         td.Raw,
		})
	}
	return out, nil
}

// importDoc is the Firestore shape of a domain.ImportRecord.
type importDoc struct {
	ID                string `firestore:"id"`
	BankID            string `firestore:"bankId"`
	FileHash          string `firestore:"fileHash"`
	FileName          string `firestore:"fileName"`
	FromDate          string `firestore:"fromDate"`
	ToDate            string `firestore:"toDate"`
	TotalTransactions int    `firestore:"totalTransactions"`
	Status            string `firestore:"status"`
}

// FindByHash implements store.ImportRecordStore. The file hash doubles as the
// document id.
func (c *Client) FindByHash(ctx context.Context, fileHash string) (*domain.ImportRecord, error) {
	doc, err := c.Firestore.Collection(colImports).Doc(fileHash).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import record: %w", err)
	}

	var id importDoc
	if err := doc.DataTo(&id); err != nil {
		return nil, fmt.Errorf("failed to parse import record: %w", err)
	}
	return &domain.ImportRecord{
		ID:                id.ID,
		BankID:            id.BankID,
		FileHash:          id.FileHash,
		FileName:          id.FileName,
		FromDate:          id.FromDate,
		ToDate:            id.ToDate,
		TotalTransactions: id.TotalTransactions,
		Status:            domain.ImportStatus(id.Status),
	}, nil
}

// Insert implements store.ImportRecordStore.
func (c *Client) Insert(ctx context.Context, rec domain.ImportRecord) error {
	doc := importDoc{
		ID:                rec.ID,
		BankID:            rec.BankID,
		FileHash:          rec.FileHash,
		FileName:          rec.FileName,
		FromDate:          rec.FromDate,
		ToDate:            rec.ToDate,
		TotalTransactions: rec.TotalTransactions,
		Status:            string(rec.Status),
	}
	_, err := c.Firestore.Collection(colImports).Doc(rec.FileHash).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		// File hash is unique; keep the first record.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert import record: %w", err)
	}
	return nil
}

// mappingDoc is the Firestore shape of a domain.PayeeMapping.
type mappingDoc struct {
	BankID        string  `firestore:"bankId"`
	PayeeKey      string  `firestore:"payeeKey"`
	NormalizedKey string  `firestore:"normalizedKey"`
	EntityID      string  `firestore:"entityId"`
	Confidence    float64 `firestore:"confidence"`
}

func mappingDocID(bankID, normalizedKey string) string {
	return sanitizeDocID(bankID + "__" + normalizedKey)
}

// Find implements store.PayeeMappingStore.
func (c *Client) Find(ctx context.Context, bankID, normalizedKey string) (*domain.PayeeMapping, error) {
	doc, err := c.Firestore.Collection(colMappings).Doc(mappingDocID(bankID, normalizedKey)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payee mapping: %w", err)
	}

	var md mappingDoc
	if err := doc.DataTo(&md); err != nil {
		return nil, fmt.Errorf("failed to parse payee mapping: %w", err)
	}
	return &domain.PayeeMapping{
		BankID:        md.BankID,
		PayeeKey:      md.PayeeKey,
		NormalizedKey: md.NormalizedKey,
		EntityID:      md.EntityID,
		Confidence:    md.Confidence,
	}, nil
}

// Upsert implements store.PayeeMappingStore.
func (c *Client) Upsert(ctx context.Context, m domain.PayeeMapping) error {
	doc := mappingDoc{
		BankID:        m.BankID,
		PayeeKey:      m.PayeeKey,
		NormalizedKey: m.NormalizedKey,
		EntityID:      m.EntityID,
		Confidence:    m.Confidence,
	}
	_, err := c.Firestore.Collection(colMappings).Doc(mappingDocID(m.BankID, m.NormalizedKey)).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert payee mapping: %w", err)
	}
	return nil
}

// reconciliationDoc is the Firestore shape of a domain.Reconciliation.
type reconciliationDoc struct {
	ID                string  `firestore:"id"`
	BankTransactionID string  `firestore:"bankTransactionId"`
	PostingID         string  `firestore:"postingId"`
	MatchType         string  `firestore:"matchType"`
	MatchScore        float64 `firestore:"matchScore"`
	MatchedAmount     float64 `firestore:"matchedAmount"`
	Notes             string  `firestore:"notes"`
}

// FindByBankTransaction implements store.ReconciliationStore.
func (c *Client) FindByBankTransaction(ctx context.Context, bankTransactionID string) (*domain.Reconciliation, error) {
	iter := c.Firestore.Collection(colReconciliations).
		Where("bankTransactionId", "==", bankTransactionID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation: %w", err)
	}

	var rd reconciliationDoc
	if err := doc.DataTo(&rd); err != nil {
		return nil, fmt.Errorf("failed to parse reconciliation: %w", err)
	}
	return &domain.Reconciliation{
		ID:                rd.ID,
		BankTransactionID: rd.BankTransactionID,
		PostingID:         rd.PostingID,
		MatchType:         domain.MatchType(rd.MatchType),
		MatchScore:        rd.MatchScore,
		MatchedAmount:     rd.MatchedAmount,
		Notes:             rd.Notes,
	}, nil
}

// InsertReconciliation backs the Insert of store.ReconciliationStore; see
// the reconciliationStore wrapper.
func (c *Client) InsertReconciliation(ctx context.Context, rec domain.Reconciliation) error {
	doc := reconciliationDoc{
		ID:                rec.ID,
		BankTransactionID: rec.BankTransactionID,
		PostingID:         rec.PostingID,
		MatchType:         string(rec.MatchType),
		MatchScore:        rec.MatchScore,
		MatchedAmount:     rec.MatchedAmount,
		Notes:             rec.Notes,
	}
	_, err := c.Firestore.Collection(colReconciliations).Doc(rec.ID).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation: %w", err)
	}
	return nil
}

// Delete implements store.ReconciliationStore.
func (c *Client) Delete(ctx context.Context, id string) error {
	ref := c.Firestore.Collection(colReconciliations).Doc(id)
	if _, err := ref.Get(ctx); status.Code(err) == codes.NotFound {
		return store.NewStorageError("delete reconciliation", store.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("failed to get reconciliation: %w", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete reconciliation: %w", err)
	}
	return nil
}

// ReconciledTransactionIDs implements store.ReconciliationStore.
func (c *Client) ReconciledTransactionIDs(ctx context.Context, bankID string) (map[string]struct{}, error) {
	iter := c.Firestore.Collection(colReconciliations).Documents(ctx)
	defer iter.Stop()

	ids := make(map[string]struct{})
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate reconciliations: %w", err)
		}

		var rd reconciliationDoc
		if err := doc.DataTo(&rd); err != nil {
			return nil, fmt.Errorf("failed to parse reconciliation: %w", err)
		}
		ids[rd.BankTransactionID] = struct{}{}
	}
	return ids, nil
}

// reconciliationStore resolves the Insert name clash between
// ImportRecordStore and ReconciliationStore on the shared Client receiver.
type reconciliationStore struct{ *Client }

func (r reconciliationStore) Insert(ctx context.Context, rec domain.Reconciliation) error {
	return r.InsertReconciliation(ctx, rec)
}
