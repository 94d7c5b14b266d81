// Package fingerprint provides the content digests used for import dedup:
// a SHA-256 file hash for file-level duplicate detection and a SHA-1 digest
// for synthesizing stable FITIDs when a statement omits them.
package fingerprint

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FileHash returns the SHA-256 hex digest of the decoded statement text.
// Determinism is the only contract: the same text always hashes to the same
// digest, so a re-uploaded file is recognized by its import record.
func FileHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SyntheticFITID derives a stable transaction identifier for statement lines
// that carry no FITID. Format: SHA1("{bankID}|{postedDate}|{amount}|{memo}")
// with the amount rendered exactly as parsed (%g), matching what a second
// import of the same file will produce.
//
// SHA-1 is deliberate: the digest only needs to be stable and unique within
// one bank's transaction set, not collision-resistant against an adversary,
// and the shorter digest keeps FITID columns compact.
func SyntheticFITID(bankID, postedDate string, amount float64, memo string) string {
	payload := fmt.Sprintf("%s|%s|%g|%s", bankID, postedDate, amount, memo)
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
