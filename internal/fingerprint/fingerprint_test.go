package fingerprint

import "testing"

func TestFileHash(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := FileHash("OFXHEADER:100\nsome statement")
		b := FileHash("OFXHEADER:100\nsome statement")
		if a != b {
			t.Errorf("same text produced different hashes: %s vs %s", a, b)
		}
	})

	t.Run("sensitive to content", func(t *testing.T) {
		a := FileHash("statement one")
		b := FileHash("statement two")
		if a == b {
			t.Error("different texts produced the same hash")
		}
	})

	t.Run("sha256 hex length", func(t *testing.T) {
		if got := len(FileHash("x")); got != 64 {
			t.Errorf("expected 64 hex chars, got %d", got)
		}
	})
}

func TestSyntheticFITID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := SyntheticFITID("bank-1", "2026-02-10", -150.00, "PADARIA XYZ")
		b := SyntheticFITID("bank-1", "2026-02-10", -150.00, "PADARIA XYZ")
		if a != b {
			t.Errorf("same inputs produced different FITIDs: %s vs %s", a, b)
		}
	})

	t.Run("sha1 hex length", func(t *testing.T) {
		if got := len(SyntheticFITID("b", "2026-01-01", 1, "m")); got != 40 {
			t.Errorf("expected 40 hex chars, got %d", got)
		}
	})

	t.Run("each input contributes", func(t *testing.T) {
		base := SyntheticFITID("bank-1", "2026-02-10", -150.00, "PADARIA XYZ")
		variants := []string{
			SyntheticFITID("bank-2", "2026-02-10", -150.00, "PADARIA XYZ"),
			SyntheticFITID("bank-1", "2026-02-11", -150.00, "PADARIA XYZ"),
			SyntheticFITID("bank-1", "2026-02-10", -150.01, "PADARIA XYZ"),
			SyntheticFITID("bank-1", "2026-02-10", -150.00, "PADARIA ABC"),
		}
		for i, v := range variants {
			if v == base {
				t.Errorf("variant %d collided with base FITID", i)
			}
		}
	})
}
