// Package ofx parses bank statements in the two OFX dialects seen in the
// wild: OFX 1.x SGML ("tag soup", closing tags optional) and OFX 2.x XML.
//
// Parsing is a strict-then-loose two-attempt pipeline. The strict attempt
// hands the document to ofxgo, which validates the full OFX envelope. Real
// statements from Brazilian banks routinely fail strict parsing (missing
// close tags, bare headers, stray characters), so a failed strict attempt
// falls back to permissive regex extraction of STMTTRN blocks. The loose
// path is a deliberate design choice, not a stopgap: a strict grammar
// parser alone would reject files that banks actually produce.
//
// Parse is pure and never fails on malformed-but-present content: records
// that cannot be interpreted are dropped, and an unusable document yields an
// empty transaction list for the caller to classify.
package ofx

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
)

// Format identifies the detected OFX dialect.
type Format int

const (
	FormatSGML Format = iota
	FormatXML
)

func (f Format) String() string {
	if f == FormatXML {
		return "xml"
	}
	return "sgml"
}

// Transaction is one statement line as extracted from the file. FITID may be
// empty; the ingestor synthesizes one before the record reaches a store.
type Transaction struct {
	PostedDate  string  // YYYY-MM-DD
	Amount      float64 // signed, negative = debit
	Memo        string
	FITID       string
	CheckNumber string
	Raw         string // verbatim source block, for audit
}

// Statement is the parse result: the statement's advertised date range plus
// the flat transaction list. FromDate/ToDate are informational and may be
// empty; they are never validated against the transactions.
type Statement struct {
	FromDate     string // YYYY-MM-DD, empty if absent
	ToDate       string
	Transactions []Transaction
}

// DetectFormat inspects header markers to classify the document.
// An explicit SGML header declaration wins over everything; an XML
// declaration or a matching <OFX>...</OFX> pair marks XML; anything
// ambiguous is treated as SGML, the legacy and most common real-world case.
func DetectFormat(text string) Format {
	if strings.Contains(text, "OFXHEADER:") || strings.Contains(text, "DATA:OFXSGML") {
		return FormatSGML
	}
	if strings.Contains(text, "<?xml") ||
		(strings.Contains(text, "<OFX>") && strings.Contains(text, "</OFX>")) {
		return FormatXML
	}
	return FormatSGML
}

// Parse extracts the transaction list and statement date range from raw
// statement text. It never returns an error: unusable input produces a
// statement with zero transactions, which callers treat as a reportable
// condition (see ingest.ErrNoTransactions).
func Parse(text string) *Statement {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	// Strict attempt first: a fully well-formed document gets the benefit of
	// ofxgo's envelope validation.
	if stmt, ok := parseStrict(normalized); ok {
		return stmt
	}

	if DetectFormat(normalized) == FormatXML {
		return parseXML(normalized)
	}
	return parseSGML(normalized)
}

// parseStrict runs the document through ofxgo. Returns ok=false whenever the
// library rejects the file or finds no bank transaction list, in which case
// the permissive path takes over.
func parseStrict(text string) (*Statement, bool) {
	resp, err := ofxgo.ParseResponse(strings.NewReader(text))
	if err != nil || len(resp.Bank) == 0 {
		return nil, false
	}

	bankStmt, ok := resp.Bank[0].(*ofxgo.StatementResponse)
	if !ok || bankStmt.BankTranList == nil {
		return nil, false
	}

	stmt := &Statement{}
	if !bankStmt.BankTranList.DtStart.IsZero() {
		stmt.FromDate = bankStmt.BankTranList.DtStart.Format(dateLayout)
	}
	if !bankStmt.BankTranList.DtEnd.IsZero() {
		stmt.ToDate = bankStmt.BankTranList.DtEnd.Format(dateLayout)
	}

	for _, txn := range bankStmt.BankTranList.Transactions {
		posted := txn.DtPosted.Time
		if posted.IsZero() {
			continue
		}
		amount, _ := txn.TrnAmt.Float64()

		memo := strings.TrimSpace(txn.Memo.String())
		if memo == "" {
			memo = strings.TrimSpace(txn.Name.String())
		}

		stmt.Transactions = append(stmt.Transactions, Transaction{
			PostedDate:  posted.Format(dateLayout),
			Amount:      amount,
			Memo:        memo,
			FITID:       strings.TrimSpace(txn.FiTID.String()),
			CheckNumber: strings.TrimSpace(txn.CheckNum.String()),
		})
	}

	if len(stmt.Transactions) == 0 {
		// Envelope parsed but carried nothing usable; let the loose path try.
		return nil, false
	}
	return stmt, true
}

const dateLayout = "2006-01-02"

var (
	// Well-formed SGML: records bracketed by explicit close tags.
	stmtTrnClosed = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)

	// Start tags only, for the tag-soup fallback slicing.
	stmtTrnStart = regexp.MustCompile(`(?i)<STMTTRN>`)

	// Markers that terminate the final record when no close tag exists.
	trailingEndMarkers = regexp.MustCompile(`(?i)</BANKTRANLIST>|</STMTRS>|</OFX>`)
)

// tagValueRegexp builds the per-field extractor: everything after <TAG> up to
// the next '<' or line break. Tolerates missing close tags at field level.
func tagValueRegexp(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)<` + tag + `>([^<\r\n]+)`)
}

var (
	reDtPosted = tagValueRegexp("DTPOSTED")
	reTrnAmt   = tagValueRegexp("TRNAMT")
	reMemo     = tagValueRegexp("MEMO")
	reName     = tagValueRegexp("NAME")
	reFitID    = tagValueRegexp("FITID")
	reCheckNum = tagValueRegexp("CHECKNUM")
	reDtStart  = tagValueRegexp("DTSTART")
	reDtEnd    = tagValueRegexp("DTEND")
)

func tagValue(re *regexp.Regexp, block string) string {
	m := re.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// parseSGML extracts transactions from an OFX 1.x document. Two-phase block
// extraction: assume well-formed close tags first; if that finds nothing,
// slice each record from its start tag to the next record boundary.
func parseSGML(text string) *Statement {
	blocks := stmtTrnClosed.FindAllString(text, -1)
	if len(blocks) == 0 {
		blocks = sliceSoupBlocks(text)
	}

	stmt := &Statement{
		FromDate: ParseOFXDate(tagValue(reDtStart, text)),
		ToDate:   ParseOFXDate(tagValue(reDtEnd, text)),
	}

	for _, block := range blocks {
		txn, ok := extractRecord(block)
		if !ok {
			continue
		}
		stmt.Transactions = append(stmt.Transactions, txn)
	}

	return stmt
}

// sliceSoupBlocks handles SGML without closing </STMTTRN> tags: each record
// runs from its start tag up to the next start tag, the end of the
// transaction list, the end of the statement, the end of document, or the
// end of input, whichever comes first.
func sliceSoupBlocks(text string) []string {
	starts := stmtTrnStart.FindAllStringIndex(text, -1)
	if len(starts) == 0 {
		return nil
	}

	blocks := make([]string, 0, len(starts))
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		} else if m := trailingEndMarkers.FindStringIndex(text[loc[0]:]); m != nil {
			end = loc[0] + m[0]
		}
		blocks = append(blocks, text[loc[0]:end])
	}
	return blocks
}

// extractRecord pulls the field set out of one STMTTRN block. A block is
// discarded when the posted date does not parse to a valid calendar date or
// the amount field is absent or non-numeric.
func extractRecord(block string) (Transaction, bool) {
	postedDate := ParseOFXDate(tagValue(reDtPosted, block))
	amountRaw := tagValue(reTrnAmt, block)
	amount, amountOK := ParseOFXAmount(amountRaw)

	if postedDate == "" || !amountOK {
		return Transaction{}, false
	}

	memo := tagValue(reMemo, block)
	if memo == "" {
		memo = tagValue(reName, block)
	}

	return Transaction{
		PostedDate:  postedDate,
		Amount:      amount,
		Memo:        memo,
		FITID:       tagValue(reFitID, block),
		CheckNumber: tagValue(reCheckNum, block),
		Raw:         block,
	}, true
}

// parseXML extracts transactions from an OFX 2.x document using a token
// walker over the element tree. The same field set and exclusion rules as
// the SGML branch apply.
func parseXML(text string) *Statement {
	doc := newXMLDoc(text)

	stmt := &Statement{
		FromDate: ParseOFXDate(doc.firstText("DTSTART")),
		ToDate:   ParseOFXDate(doc.firstText("DTEND")),
	}

	for _, el := range doc.elements("STMTTRN") {
		postedDate := ParseOFXDate(el.childText("DTPOSTED"))
		amount, amountOK := ParseOFXAmount(el.childText("TRNAMT"))
		if postedDate == "" || !amountOK {
			continue
		}

		memo := el.childText("MEMO")
		if memo == "" {
			memo = el.childText("NAME")
		}

		stmt.Transactions = append(stmt.Transactions, Transaction{
			PostedDate:  postedDate,
			Amount:      amount,
			Memo:        memo,
			FITID:       el.childText("FITID"),
			CheckNumber: el.childText("CHECKNUM"),
			Raw:         el.raw,
		})
	}

	return stmt
}

// ParseOFXDate converts an OFX timestamp to a YYYY-MM-DD calendar date.
// The date is the leading 8 digits (YYYYMMDD); any time-of-day or timezone
// suffix is ignored. Invalid or short input yields "".
func ParseOFXDate(ofxDate string) string {
	ofxDate = strings.TrimSpace(ofxDate)
	if len(ofxDate) < 8 {
		return ""
	}
	d, err := time.Parse("20060102", ofxDate[:8])
	if err != nil {
		return ""
	}
	return d.Format(dateLayout)
}

// ParseOFXAmount parses an OFX decimal amount. '.' is the expected separator;
// ',' is tolerated by substitution. No currency symbols are handled, bank
// files carry bare numbers.
func ParseOFXAmount(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
