package admission

import (
	"log/slog"
	"sync"

	"github.com/engagekit/rewardpipe/internal/domain"
)

const hourMillis = 3_600_000

type pairKey struct {
	kind   domain.ActionKind
	userID string
}

type hourBucket struct {
	index int64
	count int
}

// Controller is the two-tier admission gate: a per-(kind,user) cooldown
// plus a per-user fixed-boundary hourly cap. State is in-memory and
// session-scoped; it is never persisted.
//
// The hourly window is bucketed by floor(now/1h), not sliding, so a
// burst straddling a bucket boundary can admit up to twice the cap
// within a 60-minute span. That is the documented behavior and tests
// assert it.
type Controller struct {
	mu sync.Mutex

	// cooldownFor resolves the configured cooldown for a kind; the
	// second return is false for unconfigured kinds, which are always
	// denied without mutating state.
	cooldownFor func(domain.ActionKind) (int64, bool)
	maxPerHour  func() int

	lastForwarded map[pairKey]int64
	hours         map[string]hourBucket

	logger *slog.Logger
}

// New creates a Controller. cooldownFor and maxPerHour are read on
// every check so configuration updates take effect immediately without
// touching already-recorded state.
func New(cooldownFor func(domain.ActionKind) (int64, bool), maxPerHour func() int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cooldownFor:   cooldownFor,
		maxPerHour:    maxPerHour,
		lastForwarded: make(map[pairKey]int64),
		hours:         make(map[string]hourBucket),
		logger:        logger,
	}
}

// Admit reports whether an occurrence of kind for userID may be
// forwarded at nowMillis. It never mutates forwarding state; call
// Record after the occurrence has actually been forwarded.
func (c *Controller) Admit(kind domain.ActionKind, userID string, nowMillis int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cooldown, ok := c.cooldownFor(kind)
	if !ok {
		c.logger.Warn("admission: unknown action kind", "kind", string(kind), "user_id", userID)
		return false
	}

	if last, seen := c.lastForwarded[pairKey{kind, userID}]; seen && cooldown > 0 {
		if nowMillis-last < cooldown {
			c.logger.Debug("admission: cooldown active",
				"kind", string(kind), "user_id", userID, "elapsed_ms", nowMillis-last, "cooldown_ms", cooldown)
			return false
		}
	}

	// A stored bucket from an earlier hour counts as empty; it is
	// rewritten on the next Record. Fixed-boundary window, not sliding.
	hourIndex := nowMillis / hourMillis
	if bucket, seen := c.hours[userID]; seen && bucket.index == hourIndex && bucket.count >= c.maxPerHour() {
		c.logger.Debug("admission: hourly cap reached",
			"user_id", userID, "hour_index", hourIndex, "count", bucket.count)
		return false
	}
	return true
}

// Record marks an occurrence as forwarded at nowMillis. Call only after
// a successful forward: queued or failed submissions must not consume
// the user's rate budget.
func (c *Controller) Record(kind domain.ActionKind, userID string, nowMillis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastForwarded[pairKey{kind, userID}] = nowMillis

	hourIndex := nowMillis / hourMillis
	bucket, seen := c.hours[userID]
	if !seen || bucket.index != hourIndex {
		bucket = hourBucket{index: hourIndex}
	}
	bucket.count++
	c.hours[userID] = bucket
}
