package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/engagekit/rewardpipe/internal/domain"
)

// Compute derives the replay-resistance fingerprint for one action
// occurrence: the hex-encoded SHA-256 of
// "{kind}:{userId}:{timestampMillis}:{origin}".
//
// The function is pure: identical inputs always yield the identical
// digest, so a queued occurrence keeps a stable identity across retries.
// The ledger side uses fingerprint equality as its authoritative replay
// check; this side only computes and carries it.
func Compute(kind domain.ActionKind, userID string, timestampMillis int64, origin string) string {
	composite := fmt.Sprintf("%s:%s:%d:%s", kind, userID, timestampMillis, origin)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
