// Package contenthash computes the Turn content hash spec.md §3 requires
// for dedup between the Hook Receiver's direct path and the Transcript
// Watcher's reconciliation path (invariant 6: unique per Task).
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

// Sum returns the hex-encoded SHA-256 of the actor and trimmed text, so
// the same utterance hashes identically whether it arrived via a hook
// payload or a transcript line, regardless of incidental whitespace.
func Sum(actor model.TurnActor, text string) string {
	h := sha256.New()
	h.Write([]byte(actor))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h.Sum(nil))
}
