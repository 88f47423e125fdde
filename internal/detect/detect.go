package detect

import (
	"context"
	"log/slog"
	"strings"

	"github.com/engagekit/rewardpipe/internal/classify"
	"github.com/engagekit/rewardpipe/internal/domain"
	"github.com/engagekit/rewardpipe/internal/notify"
	"github.com/engagekit/rewardpipe/internal/pipeline"
)

// Surface turns raw page signals into classified occurrences and feeds
// them to the pipeline. It owns all text extraction; the classifier
// itself never sees anything but precomputed signal text, so it stays
// unit-testable without a page environment.
type Surface struct {
	pipe   *pipeline.Adapter
	logger *slog.Logger
}

// New creates a Surface feeding pipe.
func New(pipe *pipeline.Adapter, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{pipe: pipe, logger: logger}
}

// HandleSignal classifies sig and, on a hit, runs the occurrence
// through the pipeline, reporting whether it was forwarded. A
// classification miss is not an error: unmapped page activity is
// expected and common, so misses are dropped silently (debug log only).
// Custom signals carry an explicit kind and skip classification. When
// auto detection is disabled, only custom signals pass.
func (s *Surface) HandleSignal(ctx context.Context, sig domain.Signal) bool {
	kind, ok := s.classify(sig)
	if !ok {
		return false
	}

	s.pipe.Sink().Notify(notify.EventActionDetected, map[string]any{
		"kind":    string(kind),
		"surface": string(sig.Surface),
	})

	return s.pipe.Process(ctx, domain.Occurrence{
		Kind:            kind,
		UserID:          sig.UserID,
		Metadata:        sig.Metadata,
		TimestampMillis: sig.TimestampMillis,
		Origin:          sig.Origin,
	})
}

func (s *Surface) classify(sig domain.Signal) (domain.ActionKind, bool) {
	if sig.Surface == domain.SurfaceCustom {
		if sig.Kind == "" {
			return "", false
		}
		return domain.ActionKind(sig.Kind), true
	}
	if !s.pipe.AutoDetectionEnabled() {
		s.logger.Debug("detect: auto detection disabled, signal ignored", "surface", string(sig.Surface))
		return "", false
	}

	var text string
	var candidates []classify.CandidateSet
	switch sig.Surface {
	case domain.SurfaceForm:
		text = joinSignalText(sig.ActionURL, sig.Attributes, sig.Content)
		candidates = classify.FormCandidates()
	case domain.SurfaceInteraction:
		text = joinSignalText(sig.Content, sig.Attributes, sig.Target)
		candidates = classify.InteractionCandidates()
	case domain.SurfaceNavigation:
		text = sig.Path
		candidates = classify.NavigationCandidates()
	default:
		return "", false
	}

	kind, ok := classify.Classify(text, candidates)
	if !ok {
		s.logger.Debug("detect: no classification", "surface", string(sig.Surface))
		return "", false
	}
	return kind, true
}

func joinSignalText(parts ...string) string {
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}
