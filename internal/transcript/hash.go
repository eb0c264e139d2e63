package transcript

import (
	"github.com/samotage/claude-headspace-sub014/internal/contenthash"
	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

// contentHash wraps internal/contenthash.Sum so the dedup algorithm lives
// in exactly one place and the Hook Receiver path and this reconciliation
// path can never drift apart (spec.md invariant 6).
func contentHash(actor model.TurnActor, text string) string {
	return contenthash.Sum(actor, text)
}
