package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/engagekit/rewardpipe/internal/admission"
	"github.com/engagekit/rewardpipe/internal/domain"
	"github.com/engagekit/rewardpipe/internal/fingerprint"
	"github.com/engagekit/rewardpipe/internal/identity"
	"github.com/engagekit/rewardpipe/internal/notify"
	"github.com/engagekit/rewardpipe/internal/queue"
)

// Version is reported in status snapshots.
const Version = "0.4.0"

// DefaultMaxEventsPerHour caps forwarded occurrences per user per hour
// bucket when the configuration does not override it.
const DefaultMaxEventsPerHour = 10

// Ledger is the submission capability. A nil Ledger on the adapter
// means "not available yet": occurrences are queued, not failed.
// Submit returning an error means the capability refused or faulted;
// the two cases differ only in logging.
type Ledger interface {
	Submit(ctx context.Context, sub domain.Submission) error
}

// Config is the adapter configuration. PackageID and PartnerCapID are
// required; everything else has a default.
type Config struct {
	PackageID        string
	PartnerCapID     string
	RPCURL           string
	Origin           string
	AllowedOrigins   []string
	MaxEventsPerHour int
	Mappings         map[domain.ActionKind]domain.Mapping
	AutoDetection    bool
}

// ConfigPatch is a partial configuration merged by UpdateConfig. Nil
// fields are left untouched; Mappings entries override or extend the
// current table. Updates take effect immediately but never rewrite
// already-recorded rate-limit state.
type ConfigPatch struct {
	MaxEventsPerHour *int
	AutoDetection    *bool
	RPCURL           *string
	AllowedOrigins   []string
	Mappings         map[domain.ActionKind]domain.Mapping
}

// Options are optional collaborator overrides, all nil-safe.
type Options struct {
	Sink          notify.Sink
	Logger        *slog.Logger
	Now           func() time.Time
	Wallet        identity.WalletAccounts
	QueueCapacity int
}

// Adapter is the submission pipeline: it classifies nothing itself (the
// detection surface does), but owns admission control, fingerprinting,
// the offline queue, and forwarding to the ledger capability.
//
// A single mutex serializes occurrence processing end to end, so the
// admission check, the submission attempt, and the Record call for one
// occurrence are never interleaved with another occurrence for the same
// (kind, user) pair.
type Adapter struct {
	mu sync.Mutex

	cfg       Config
	admission *admission.Controller
	queue     *queue.Queue
	ledger    Ledger
	identity  *identity.Provider
	sink      notify.Sink
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer

	initialized bool
}

// New validates cfg and constructs an Adapter. Configuration errors
// (missing identifiers, an origin outside the allowlist) fail here;
// nothing is partially initialized. The "ready" notification is emitted
// before New returns.
func New(cfg Config, opts Options) (*Adapter, error) {
	if cfg.PackageID == "" {
		return nil, fmt.Errorf("config: package id required")
	}
	if cfg.PartnerCapID == "" {
		return nil, fmt.Errorf("config: partner cap id required")
	}
	if len(cfg.AllowedOrigins) > 0 && !slices.Contains(cfg.AllowedOrigins, cfg.Origin) {
		return nil, fmt.Errorf("config: origin %q not in allowed origins", cfg.Origin)
	}
	if cfg.MaxEventsPerHour <= 0 {
		cfg.MaxEventsPerHour = DefaultMaxEventsPerHour
	}

	// Built-ins first, overrides on top, so a partial mapping table
	// extends rather than replaces the defaults.
	mappings := domain.BuiltinMappings()
	for kind, m := range cfg.Mappings {
		mappings[kind] = m
	}
	cfg.Mappings = mappings

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = notify.Slog{Logger: logger}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	a := &Adapter{
		cfg:      cfg,
		queue:    queue.New(opts.QueueCapacity),
		identity: identity.New(opts.Wallet),
		sink:     sink,
		logger:   logger,
		now:      now,
		tracer:   otel.Tracer("rewardpipe/pipeline"),
	}
	a.admission = admission.New(a.cooldownFor, a.maxPerHour, logger)
	a.initialized = true

	a.sink.Notify(notify.EventReady, map[string]any{
		"version":    Version,
		"package_id": cfg.PackageID,
	})
	return a, nil
}

// cooldownFor and maxPerHour are only invoked while a.mu is held (all
// admission calls happen inside Process or Drain), so reading cfg here
// is safe.
func (a *Adapter) cooldownFor(kind domain.ActionKind) (int64, bool) {
	m, ok := a.cfg.Mappings[kind]
	return m.CooldownMillis, ok
}

func (a *Adapter) maxPerHour() int { return a.cfg.MaxEventsPerHour }

// Track manually injects an occurrence, bypassing the detection surface
// but not admission control or fingerprinting. It reports whether the
// occurrence was forwarded: false covers denial, queueing, and
// submission failure alike; none of those are errors.
func (a *Adapter) Track(ctx context.Context, kind domain.ActionKind, metadata map[string]any) bool {
	return a.Process(ctx, domain.Occurrence{Kind: kind, Metadata: metadata})
}

// Process runs one occurrence through the pipeline:
// classified occurrence in, terminal state out. Missing user, timestamp
// and origin fields are filled from the identity provider, the clock
// and the configured origin.
func (a *Adapter) Process(ctx context.Context, occ domain.Occurrence) bool {
	ctx, span := a.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("action.kind", string(occ.Kind))))
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if occ.UserID == "" {
		occ.UserID = a.identity.UserID()
	}
	if occ.TimestampMillis == 0 {
		occ.TimestampMillis = a.now().UnixMilli()
	}
	if occ.Origin == "" {
		occ.Origin = a.cfg.Origin
	}

	mapping, ok := a.cfg.Mappings[occ.Kind]
	if !ok {
		a.logger.Warn("pipeline: unconfigured kind dropped", "kind", string(occ.Kind), "user_id", occ.UserID)
		span.SetAttributes(attribute.String("pipeline.outcome", "unconfigured"))
		return false
	}

	nowMillis := a.now().UnixMilli()
	if !a.admission.Admit(occ.Kind, occ.UserID, nowMillis) {
		// Denied occurrences are dropped, never queued: queueing a
		// rate-limited occurrence would defeat the limit.
		a.logger.Info("pipeline: occurrence denied", "kind", string(occ.Kind), "user_id", occ.UserID)
		span.SetAttributes(attribute.String("pipeline.outcome", "denied"))
		return false
	}

	occ.Fingerprint = fingerprint.Compute(occ.Kind, occ.UserID, occ.TimestampMillis, occ.Origin)

	if a.ledger == nil {
		// Capability not available yet. Queued entries keep their
		// fingerprint but do not consume rate budget until forwarded.
		if evicted := a.queue.Enqueue(occ); evicted {
			a.logger.Warn("pipeline: offline queue full, oldest entry evicted")
		}
		a.logger.Info("pipeline: occurrence queued", "kind", string(occ.Kind), "queued", a.queue.Len())
		span.SetAttributes(attribute.String("pipeline.outcome", "queued"))
		return false
	}

	forwarded := a.forwardLocked(ctx, occ, mapping, nowMillis)
	if forwarded {
		span.SetAttributes(attribute.String("pipeline.outcome", "forwarded"))
	} else {
		span.SetAttributes(attribute.String("pipeline.outcome", "failed"))
	}
	return forwarded
}

// forwardLocked attempts submission and, on success, records admission
// state and emits pointsEarned. On failure the occurrence goes back to
// the queue tail for a later drain; there is no self-scheduled retry.
// Caller holds a.mu.
func (a *Adapter) forwardLocked(ctx context.Context, occ domain.Occurrence, mapping domain.Mapping, nowMillis int64) bool {
	sub := domain.Submission{
		Kind:        occ.Kind,
		UserID:      occ.UserID,
		Fingerprint: occ.Fingerprint,
		Origin:      occ.Origin,
		Points:      mapping.Points,
		Metadata:    occ.Metadata,
	}
	if err := a.ledger.Submit(ctx, sub); err != nil {
		a.logger.Warn("pipeline: submission failed, re-queued",
			"kind", string(occ.Kind), "fingerprint", occ.Fingerprint, "error", err)
		if evicted := a.queue.Enqueue(occ); evicted {
			a.logger.Warn("pipeline: offline queue full, oldest entry evicted")
		}
		return false
	}

	a.admission.Record(occ.Kind, occ.UserID, nowMillis)
	a.sink.Notify(notify.EventPointsEarned, map[string]any{
		"kind":        string(occ.Kind),
		"points":      mapping.Points,
		"user_id":     occ.UserID,
		"fingerprint": occ.Fingerprint,
	})
	a.logger.Info("pipeline: occurrence forwarded",
		"kind", string(occ.Kind), "user_id", occ.UserID, "points", mapping.Points)
	return true
}

// AttachLedger wires (or replaces) the submission capability and drains
// the offline queue. It returns the number of entries forwarded by the
// drain.
func (a *Adapter) AttachLedger(ctx context.Context, l Ledger) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ledger = l
	return a.drainLocked(ctx)
}

// Drain replays queued entries through admission and submission. Called
// when a capability becomes available; entries denied at drain time are
// dropped, failed submissions return to the queue tail.
func (a *Adapter) Drain(ctx context.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainLocked(ctx)
}

func (a *Adapter) drainLocked(ctx context.Context) int {
	if a.ledger == nil {
		return 0
	}
	entries := a.queue.DrainAll()
	if len(entries) == 0 {
		return 0
	}
	a.logger.Info("pipeline: draining offline queue", "entries", len(entries))

	forwarded := 0
	for _, occ := range entries {
		mapping, ok := a.cfg.Mappings[occ.Kind]
		if !ok {
			a.logger.Warn("pipeline: queued kind no longer configured, dropped", "kind", string(occ.Kind))
			continue
		}
		nowMillis := a.now().UnixMilli()
		if !a.admission.Admit(occ.Kind, occ.UserID, nowMillis) {
			// Admission is re-checked at forward time; a queued entry
			// that no longer passes is dropped like any other denial.
			continue
		}
		if a.forwardLocked(ctx, occ, mapping, nowMillis) {
			forwarded++
		}
	}
	return forwarded
}

// Status returns a point-in-time snapshot.
func (a *Adapter) Status() domain.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.Status{
		Initialized:   a.initialized,
		HasCapability: a.ledger != nil,
		QueuedCount:   a.queue.Len(),
		Version:       Version,
	}
}

// UpdateConfig merges patch into the live configuration. New limits
// apply to subsequent admission checks only.
func (a *Adapter) UpdateConfig(patch ConfigPatch) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if patch.MaxEventsPerHour != nil && *patch.MaxEventsPerHour > 0 {
		a.cfg.MaxEventsPerHour = *patch.MaxEventsPerHour
	}
	if patch.AutoDetection != nil {
		a.cfg.AutoDetection = *patch.AutoDetection
	}
	if patch.RPCURL != nil {
		a.cfg.RPCURL = *patch.RPCURL
	}
	if patch.AllowedOrigins != nil {
		a.cfg.AllowedOrigins = slices.Clone(patch.AllowedOrigins)
	}
	for kind, m := range patch.Mappings {
		a.cfg.Mappings[kind] = m
	}
}

// AutoDetectionEnabled reports whether the detection surface should
// feed this adapter.
func (a *Adapter) AutoDetectionEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.AutoDetection
}

// OriginAllowed reports whether origin passes the configured allowlist.
// An empty allowlist allows everything.
func (a *Adapter) OriginAllowed(origin string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(a.cfg.AllowedOrigins, origin)
}

// Sink exposes the notification sink for collaborators (the detection
// surface emits raw occurrence signals through it).
func (a *Adapter) Sink() notify.Sink { return a.sink }
