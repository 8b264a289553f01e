package aggregation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// EventFingerprint hashes the identity fields of an event into the alert
// deduplication key. SHA-256 over the four fields joined with "|" keeps the
// value stable across restarts and across runtimes that replicate it.
func EventFingerprint(item, resourceID, resourceType, alertSource string) string {
	canonical := strings.Join([]string{item, resourceID, resourceType, alertSource}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// SessionKey builds the state-store key for one session of a fingerprint.
func SessionKey(fingerprint string, sessionID int) string {
	return fmt.Sprintf("%s:%d", fingerprint, sessionID)
}
