package domain

// ActionKind identifies a rewardable user action. The set is open:
// deployments may extend it through configuration, but these built-ins
// always exist with default reward mappings.
type ActionKind string

const (
	KindUserSignup        ActionKind = "user_signup"
	KindPurchaseCompleted ActionKind = "purchase_completed"
	KindNewsletterSignup  ActionKind = "newsletter_signup"
	KindSocialShare       ActionKind = "social_share"
	KindProfileCompletion ActionKind = "profile_completion"
	KindReferralSuccess   ActionKind = "referral_success"
)

// Mapping is the reward configuration for one ActionKind. Points are
// advisory (display only on this side); the cooldown is enforced by the
// admission controller. CooldownMillis of 0 means no per-action cooldown.
type Mapping struct {
	Points         int   `json:"points" yaml:"points"`
	CooldownMillis int64 `json:"cooldown_ms" yaml:"cooldown_ms"`
}

// BuiltinMappings returns the default reward table. Callers receive a
// fresh map and may mutate it freely.
func BuiltinMappings() map[ActionKind]Mapping {
	return map[ActionKind]Mapping{
		KindUserSignup:        {Points: 50, CooldownMillis: 86_400_000},
		KindPurchaseCompleted: {Points: 100, CooldownMillis: 0},
		KindNewsletterSignup:  {Points: 25, CooldownMillis: 86_400_000},
		KindSocialShare:       {Points: 10, CooldownMillis: 3_600_000},
		KindProfileCompletion: {Points: 30, CooldownMillis: 86_400_000},
		KindReferralSuccess:   {Points: 75, CooldownMillis: 0},
	}
}

// Occurrence is one detected instance of a rewardable action. It lives
// for the current session only; Fingerprint is empty until the pipeline
// computes it.
type Occurrence struct {
	Kind            ActionKind     `json:"kind"`
	UserID          string         `json:"user_id"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	TimestampMillis int64          `json:"timestamp_ms"`
	Origin          string         `json:"origin,omitempty"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
}

// Submission is the payload handed to a ledger capability for one
// admitted occurrence.
type Submission struct {
	Kind        ActionKind     `json:"kind"`
	UserID      string         `json:"user_id"`
	Fingerprint string         `json:"fingerprint"`
	Origin      string         `json:"origin,omitempty"`
	Points      int            `json:"points"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Status is a read-only snapshot of the adapter, computed on demand.
type Status struct {
	Initialized   bool   `json:"initialized"`
	HasCapability bool   `json:"has_capability"`
	QueuedCount   int    `json:"queued_count"`
	Version       string `json:"version"`
}
