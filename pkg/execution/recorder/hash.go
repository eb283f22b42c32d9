package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashSnapshot returns the hex SHA-256 of the snapshot's JSON encoding.
// encoding/json sorts map keys, so equal snapshots hash equally.
// Returns an empty string for an empty snapshot.
func HashSnapshot(snapshot map[string]interface{}) string {
	if len(snapshot) == 0 {
		return ""
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifySnapshot reports whether a stored snapshot still matches its hash.
// Records written without a hash always verify.
func VerifySnapshot(snapshot map[string]interface{}, hash string) bool {
	if hash == "" {
		return true
	}
	return HashSnapshot(snapshot) == hash
}
