// Package match finds candidate ledger postings for a bank transaction and
// scores them.
//
// Scoring is a weighted blend of amount proximity, date proximity and text
// overlap, plus a learned-payee bonus, on a 0-100 scale. The weights favor
// amount heavily: in restaurant and bar bookkeeping the amount is the most
// discriminating signal, dates drift by settlement delays, and descriptions
// are noisy bank-side strings.
package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/transform"
)

// Score weights and thresholds. MappingBonus is added before the final cap,
// so a mapping hit can lift a partial match to a perfect 100 but never above.
const (
	amountWeight = 60.0
	dateWeight   = 25.0
	entityWeight = 10.0
	notesWeight  = 5.0
	textCap      = 15.0

	// MappingBonus is granted when a learned payee mapping points at the
	// candidate's entity.
	MappingBonus = 30.0

	// AutoAcceptScore preselects the top candidate in review UIs.
	AutoAcceptScore = 90.0

	// OneClickScore allows single-confirmation accept, but only when the
	// score includes a mapping bonus. A purely coincidental 95 still gets
	// full review.
	OneClickScore = 95.0
)

// Window bounds the candidate search around the bank transaction.
type Window struct {
	AmountTolerance float64 // max absolute amount difference
	Days            int     // max days between posted and occurrence date
}

// DefaultWindow is the everyday preset. Card settlements and bank fees move
// amounts by small adjustments and dates by up to two weeks.
func DefaultWindow() Window { return Window{AmountTolerance: 2.00, Days: 15} }

// StrictWindow is the tight preset for high-volume days where the default
// window pulls in too many candidates.
func StrictWindow() Window { return Window{AmountTolerance: 0.05, Days: 10} }

// Candidate is one scored posting. Breakdown carries the per-component
// contributions for display in review UIs.
type Candidate struct {
	Posting     domain.Posting `json:"posting"`
	Score       float64        `json:"score"`
	FromMapping bool           `json:"fromMapping"`
	Breakdown   Breakdown      `json:"breakdown"`
}

// Breakdown itemizes a candidate's score.
type Breakdown struct {
	Amount  float64 `json:"amount"`
	Date    float64 `json:"date"`
	Text    float64 `json:"text"`
	Mapping float64 `json:"mapping"`
}

// AutoAcceptable reports whether the candidate may be preselected.
func (c Candidate) AutoAcceptable() bool {
	return c.Score >= AutoAcceptScore
}

// OneClickAcceptable reports whether the candidate qualifies for
// single-confirmation accept.
func (c Candidate) OneClickAcceptable() bool {
	return c.FromMapping && c.Score >= OneClickScore
}

// Finder scores open postings against bank transactions.
type Finder struct {
	postings store.PostingStore
	mappings store.PayeeMappingStore
}

// NewFinder creates a Finder over the given stores.
func NewFinder(postings store.PostingStore, mappings store.PayeeMappingStore) *Finder {
	return &Finder{postings: postings, mappings: mappings}
}

// FindCandidates returns all pending postings within the window, scored and
// ordered best-first. Ties on score break toward the posting whose occurrence
// date is closer to the transaction's posted date.
func (f *Finder) FindCandidates(ctx context.Context, txn domain.BankTransaction, w Window) ([]Candidate, error) {
	postedAt := txn.PostedAt()
	if postedAt.IsZero() {
		return nil, fmt.Errorf("transaction %s has no valid posted date", txn.ID)
	}

	target := math.Abs(txn.Amount)
	q := store.PostingQuery{
		Status:    domain.PostingPending,
		DateFrom:  postedAt.AddDate(0, 0, -w.Days).Format(domain.DateLayout),
		DateTo:    postedAt.AddDate(0, 0, w.Days).Format(domain.DateLayout),
		AmountMin: target - w.AmountTolerance,
		AmountMax: target + w.AmountTolerance,
	}

	postings, err := f.postings.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying open postings: %w", err)
	}
	if len(postings) == 0 {
		return nil, nil
	}

	mappedEntity := f.mappedEntity(ctx, txn)

	candidates := make([]Candidate, 0, len(postings))
	for _, p := range postings {
		c := scoreCandidate(txn, p, w, mappedEntity)
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		di := dayDistance(postedAt, candidates[i].Posting.OccurredAt())
		dj := dayDistance(postedAt, candidates[j].Posting.OccurredAt())
		return di < dj
	})
	return candidates, nil
}

// mappedEntity resolves the learned entity for the transaction's normalized
// description, or "". A mapping lookup failure degrades to no bonus rather
// than failing the search.
func (f *Finder) mappedEntity(ctx context.Context, txn domain.BankTransaction) string {
	key := transform.NormalizeDescription(txn.Description)
	if key == "" {
		return ""
	}
	m, err := f.mappings.Find(ctx, txn.BankID, key)
	if err != nil || m == nil {
		return ""
	}
	return m.EntityID
}

func scoreCandidate(txn domain.BankTransaction, p domain.Posting, w Window, mappedEntity string) Candidate {
	var b Breakdown

	diff := math.Abs(math.Abs(txn.Amount) - p.Amount)
	if w.AmountTolerance > 0 {
		b.Amount = amountWeight * math.Max(0, 1-diff/w.AmountTolerance)
	} else if diff == 0 {
		b.Amount = amountWeight
	}

	days := dayDistance(txn.PostedAt(), p.OccurredAt())
	if w.Days > 0 {
		b.Date = dateWeight * math.Max(0, 1-float64(days)/float64(w.Days))
	} else if days == 0 {
		b.Date = dateWeight
	}

	// Containment runs both directions: bank descriptions are often a
	// truncated form of the full entity name ("PADARIA XYZ" on the statement,
	// "PADARIA XYZ LTDA" in the ledger).
	entityHit := transform.ContainsNormalized(txn.Description, p.EntityName) ||
		transform.ContainsNormalized(p.EntityName, txn.Description)
	if entityHit {
		b.Text += entityWeight
		if transform.ContainsNormalized(txn.Description, p.Notes) {
			b.Text += notesWeight
		}
	}
	if b.Text > textCap {
		b.Text = textCap
	}

	fromMapping := mappedEntity != "" && p.EntityID == mappedEntity
	if fromMapping {
		b.Mapping = MappingBonus
	}

	score := b.Amount + b.Date + b.Text + b.Mapping
	if score > 100 {
		score = 100
	}

	return Candidate{
		Posting:     p,
		Score:       score,
		FromMapping: fromMapping,
		Breakdown:   b,
	}
}

// dayDistance returns the absolute whole-day distance between two calendar
// dates. Both inputs are day-precision, so the division is exact.
func dayDistance(a, b time.Time) int {
	d := int(a.Sub(b).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}
