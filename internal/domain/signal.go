package domain

// SignalSurface names the page surface a raw signal was observed on.
// Each surface classifies against its own candidate sets.
type SignalSurface string

const (
	SurfaceForm        SignalSurface = "form"
	SurfaceInteraction SignalSurface = "interaction"
	SurfaceNavigation  SignalSurface = "navigation"
	SurfaceCustom      SignalSurface = "custom"
)

// Signal is a raw activity signal as reported by the page shim, before
// classification. Field relevance depends on the surface:
//   - form: ActionURL, Attributes, Content
//   - interaction: Content, Attributes, Target
//   - navigation: Path
//   - custom: Kind (explicit, bypasses classification)
type Signal struct {
	Surface         SignalSurface  `json:"surface"`
	UserID          string         `json:"user_id,omitempty"`
	Origin          string         `json:"origin,omitempty"`
	ActionURL       string         `json:"action_url,omitempty"`
	Attributes      string         `json:"attributes,omitempty"`
	Content         string         `json:"content,omitempty"`
	Target          string         `json:"target,omitempty"`
	Path            string         `json:"path,omitempty"`
	Kind            string         `json:"kind,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	TimestampMillis int64          `json:"timestamp_ms,omitempty"`
}
