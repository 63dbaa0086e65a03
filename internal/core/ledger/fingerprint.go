package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintLength is the number of hex characters kept from the digest.
const FingerprintLength = 16

// escaper keeps the "|" join unambiguous for parts that contain it.
var escaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// Fingerprint hashes the lower-cased, trimmed parts joined by "|".
// Separator and backslash characters inside a part are escaped.
func Fingerprint(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = escaper.Replace(strings.ToLower(strings.TrimSpace(p)))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

// SourceFingerprint keys the processed-source namespace. It never includes
// scorer output.
func SourceFingerprint(source, recordID string) string {
	return Fingerprint(source, recordID)
}

// ArtifactFingerprint keys the emitted-artifact namespace.
func ArtifactFingerprint(source, itemID, title, description string) string {
	return Fingerprint(source, itemID, title, description)
}
