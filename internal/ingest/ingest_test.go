package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/domain"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/fingerprint"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store/memory"
)

const testStatement = `OFXHEADER:100
DATA:OFXSGML
VERSION:102

<OFX>
<BANKMSGSRSV1>
<STMTTRNRS>
<STMTRS>
<BANKTRANLIST>
<DTSTART>20260201
<DTEND>20260228
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20260210
<TRNAMT>-150.00
<FITID>abc123
<MEMO>PADARIA XYZ
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20260211
<TRNAMT>2000.00
<FITID>def456
<MEMO>PIX RECEBIDO
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20260212
<TRNAMT>-45.50
<FITID>ghi789
<MEMO>POSTO DE GAS
</STMTTRN>
</BANKTRANLIST>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func TestImport_FreshFile(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	ingestor := New(mem.Stores())

	res, err := ingestor.Import(ctx, "bank-1", "extrato.ofx", []byte(testStatement))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.New)
	assert.Equal(t, 0, res.Existing)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "2026-02-01", res.FromDate)
	assert.Equal(t, "2026-02-28", res.ToDate)
	assert.NotEmpty(t, res.ImportID)
	assert.NotEmpty(t, res.FileHash)

	txns, err := mem.ListByBank(ctx, "bank-1", "", "")
	require.NoError(t, err)
	require.Len(t, txns, 3)

	// Newest first
	assert.Equal(t, "2026-02-12", txns[0].PostedDate)
	assert.Equal(t, "POSTO DE GAS", txns[0].Description)
	assert.Equal(t, -45.50, txns[0].Amount)
	assert.Equal(t, res.FileHash, txns[0].FileHash)

	rec, err := mem.FindByHash(ctx, res.FileHash)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusImported, rec.Status)
	assert.Equal(t, 3, rec.TotalTransactions)
}

func TestImport_ReimportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	ingestor := New(mem.Stores())

	first, err := ingestor.Import(ctx, "bank-1", "extrato.ofx", []byte(testStatement))
	require.NoError(t, err)
	require.Equal(t, 3, first.New)

	second, err := ingestor.Import(ctx, "bank-1", "extrato.ofx", []byte(testStatement))
	require.NoError(t, err)

	assert.Equal(t, 3, second.Total)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 3, second.Existing)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ImportID, second.ImportID)

	txns, err := mem.ListByBank(ctx, "bank-1", "", "")
	require.NoError(t, err)
	assert.Len(t, txns, 3, "re-import must not create duplicate rows")
}

func TestImport_SameFITIDsDifferentBank(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	ingestor := New(mem.Stores())

	_, err := ingestor.Import(ctx, "bank-1", "extrato.ofx", []byte(testStatement))
	require.NoError(t, err)

	res, err := ingestor.Import(ctx, "bank-2", "extrato.ofx", []byte(testStatement))
	require.NoError(t, err)

	// The dedup key is per bank
	assert.Equal(t, 3, res.New)
	assert.Equal(t, 0, res.Existing)
}

func TestImport_SynthesizesMissingFITIDs(t *testing.T) {
	stmt := `OFXHEADER:100
DATA:OFXSGML

<OFX>
<BANKTRANLIST>
<STMTTRN>
<DTPOSTED>20260210
<TRNAMT>-150.00
<MEMO>SEM FITID
</STMTTRN>
</BANKTRANLIST>
</OFX>
`
	ctx := context.Background()
	mem := memory.New()
	ingestor := New(mem.Stores())

	first, err := ingestor.Import(ctx, "bank-1", "a.ofx", []byte(stmt))
	require.NoError(t, err)
	require.Equal(t, 1, first.New)

	txns, err := mem.ListByBank(ctx, "bank-1", "", "")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Len(t, txns[0].FITID, 40, "synthetic FITID should be a SHA-1 hex digest")

	// The synthetic id is stable, so a re-import still dedups
	second, err := ingestor.Import(ctx, "bank-1", "a.ofx", []byte(stmt))
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 1, second.Existing)
}

func TestImport_Windows1252Decoding(t *testing.T) {
	// "SÃO" in windows-1252: 0xC3 is a bare byte, invalid as UTF-8
	raw := []byte(`OFXHEADER:100
DATA:OFXSGML

<OFX>
<BANKTRANLIST>
<STMTTRN>
<DTPOSTED>20260210
<TRNAMT>-10.00
<FITID>x1
<MEMO>PADARIA S` + "\xc3O" + `
</STMTTRN>
</BANKTRANLIST>
</OFX>
`)

	ctx := context.Background()
	mem := memory.New()
	ingestor := New(mem.Stores())

	res, err := ingestor.Import(ctx, "bank-1", "latin.ofx", raw)
	require.NoError(t, err)
	require.Equal(t, 1, res.New)

	txns, err := mem.ListByBank(ctx, "bank-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "PADARIA SÃO", txns[0].Description)
}

func TestImport_NoTransactions(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	ingestor := New(mem.Stores())

	_, err := ingestor.Import(ctx, "bank-1", "vazio.ofx", []byte("OFXHEADER:100\n<OFX></OFX>"))
	assert.ErrorIs(t, err, ErrNoTransactions)

	// The failed import still gets an audit record
	rec, err := mem.FindByHash(ctx, fingerprint.FileHash("OFXHEADER:100\n<OFX></OFX>"))
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusError, rec.Status)
	assert.Equal(t, 0, rec.TotalTransactions)
}

func TestImport_EmptyFile(t *testing.T) {
	ctx := context.Background()
	ingestor := New(memory.New().Stores())

	_, err := ingestor.Import(ctx, "bank-1", "empty.ofx", nil)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestImport_EmptyBankID(t *testing.T) {
	ctx := context.Background()
	ingestor := New(memory.New().Stores())

	_, err := ingestor.Import(ctx, "", "x.ofx", []byte(testStatement))
	require.Error(t, err)
}
