package domain

import (
	"fmt"
	"time"
)

// Validation constraints (keep in sync with the HTTP surface docs).
const (
	MaxKindLen       = 128
	MaxUserIDLen     = 128
	MaxOriginLen     = 512
	MaxSignalTextLen = 4096
	MaxMetadataKeys  = 50
	DefaultClockSkew = 5 * time.Minute
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

var validSurfaces = map[SignalSurface]struct{}{
	SurfaceForm:        {},
	SurfaceInteraction: {},
	SurfaceNavigation:  {},
	SurfaceCustom:      {},
}

// ValidateSignal performs strict checks on a raw signal before it is
// handed to the detection surface.
// now: reference time (injectable for tests)
// skew: allowable future skew (positive duration)
func ValidateSignal(sig *Signal, now time.Time, skew time.Duration) []FieldError {
	var errs []FieldError

	if sig.Surface == "" {
		errs = append(errs, FieldError{"surface", "required"})
	} else if _, ok := validSurfaces[sig.Surface]; !ok {
		errs = append(errs, FieldError{"surface", "must be one of form, interaction, navigation, custom"})
	}

	if sig.Surface == SurfaceCustom && sig.Kind == "" {
		errs = append(errs, FieldError{"kind", "required for custom signals"})
	}
	if len(sig.Kind) > MaxKindLen {
		errs = append(errs, FieldError{"kind", fmt.Sprintf("max length %d", MaxKindLen)})
	}
	if len(sig.UserID) > MaxUserIDLen {
		errs = append(errs, FieldError{"user_id", fmt.Sprintf("max length %d", MaxUserIDLen)})
	}
	if len(sig.Origin) > MaxOriginLen {
		errs = append(errs, FieldError{"origin", fmt.Sprintf("max length %d", MaxOriginLen)})
	}

	for _, f := range []struct{ name, val string }{
		{"action_url", sig.ActionURL},
		{"attributes", sig.Attributes},
		{"content", sig.Content},
		{"target", sig.Target},
		{"path", sig.Path},
	} {
		if len(f.val) > MaxSignalTextLen {
			errs = append(errs, FieldError{f.name, fmt.Sprintf("max length %d", MaxSignalTextLen)})
		}
	}

	if len(sig.Metadata) > MaxMetadataKeys {
		errs = append(errs, FieldError{"metadata", fmt.Sprintf("max %d keys", MaxMetadataKeys)})
	}

	// Timestamp is optional (0 means "stamp on arrival") but must not be
	// in the future beyond the allowed skew.
	if sig.TimestampMillis != 0 {
		ts := time.UnixMilli(sig.TimestampMillis).UTC()
		if ts.After(now.Add(skew)) {
			errs = append(errs, FieldError{"timestamp_ms", "must not be in the future (beyond allowed skew)"})
		}
	}

	return errs
}

// ValidateTrack checks a manual track request.
func ValidateTrack(kind string, userID string, metadata map[string]any) []FieldError {
	var errs []FieldError

	if kind == "" {
		errs = append(errs, FieldError{"kind", "required"})
	} else if len(kind) > MaxKindLen {
		errs = append(errs, FieldError{"kind", fmt.Sprintf("max length %d", MaxKindLen)})
	}
	if len(userID) > MaxUserIDLen {
		errs = append(errs, FieldError{"user_id", fmt.Sprintf("max length %d", MaxUserIDLen)})
	}
	if len(metadata) > MaxMetadataKeys {
		errs = append(errs, FieldError{"metadata", fmt.Sprintf("max %d keys", MaxMetadataKeys)})
	}

	return errs
}
