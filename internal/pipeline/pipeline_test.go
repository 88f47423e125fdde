package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/engagekit/rewardpipe/internal/domain"
)

type fakeLedger struct {
	mu    sync.Mutex
	subs  []domain.Submission
	fail  bool
	calls int
}

func (f *fakeLedger) Submit(_ context.Context, sub domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("ledger unavailable")
	}
	f.subs = append(f.subs, sub)
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []string
	last   map[string]map[string]any
}

func (c *captureSink) Notify(event string, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	if c.last == nil {
		c.last = map[string]map[string]any{}
	}
	c.last[event] = payload
}

func (c *captureSink) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		PackageID:     "pkg-1",
		PartnerCapID:  "cap-1",
		Origin:        "https://shop.example",
		AutoDetection: true,
	}
}

func newTestAdapter(t *testing.T, cfg Config, opts Options) *Adapter {
	t.Helper()
	if opts.Now == nil {
		base := time.UnixMilli(3_600_000 * 700) // hour-aligned, fixed
		opts.Now = func() time.Time { return base }
	}
	a, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_ConfigErrors(t *testing.T) {
	if _, err := New(Config{PartnerCapID: "cap"}, Options{}); err == nil {
		t.Fatal("missing package id should fail construction")
	}
	if _, err := New(Config{PackageID: "pkg"}, Options{}); err == nil {
		t.Fatal("missing partner cap id should fail construction")
	}
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://other.example"}
	if _, err := New(cfg, Options{}); err == nil {
		t.Fatal("disallowed origin should fail construction")
	}
}

func TestNew_EmitsReady(t *testing.T) {
	sink := &captureSink{}
	newTestAdapter(t, testConfig(), Options{Sink: sink})
	if sink.count("ready") != 1 {
		t.Fatalf("expected one ready notification, got %d", sink.count("ready"))
	}
}

func TestTrack_CooldownScenario(t *testing.T) {
	// user_signup = {points:50, cooldown:86400000}; two tracks within
	// one second: first forwards, second is denied.
	ledger := &fakeLedger{}
	nowMillis := int64(3_600_000 * 700)
	now := func() time.Time { return time.UnixMilli(nowMillis) }

	a := newTestAdapter(t, testConfig(), Options{Now: now})
	a.AttachLedger(context.Background(), ledger)

	if !a.Track(context.Background(), domain.KindUserSignup, nil) {
		t.Fatal("first track should forward")
	}
	nowMillis += 1000
	if a.Track(context.Background(), domain.KindUserSignup, nil) {
		t.Fatal("second track within the cooldown should be denied")
	}
	if len(ledger.subs) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(ledger.subs))
	}
	if ledger.subs[0].Points != 50 {
		t.Fatalf("expected 50 points, got %d", ledger.subs[0].Points)
	}
}

func TestTrack_QueueThenAttachDrains(t *testing.T) {
	// No capability: track queues and returns false. Attaching a
	// capability drains the queue and fires pointsEarned.
	sink := &captureSink{}
	a := newTestAdapter(t, testConfig(), Options{Sink: sink})

	if a.Track(context.Background(), domain.KindPurchaseCompleted, map[string]any{"amount": 10}) {
		t.Fatal("track without capability should return false")
	}
	if got := a.Status().QueuedCount; got != 1 {
		t.Fatalf("expected queuedCount 1, got %d", got)
	}

	ledger := &fakeLedger{}
	if n := a.AttachLedger(context.Background(), ledger); n != 1 {
		t.Fatalf("expected drain to forward 1 entry, got %d", n)
	}
	if got := a.Status().QueuedCount; got != 0 {
		t.Fatalf("expected queuedCount 0 after drain, got %d", got)
	}
	payload := sink.last["pointsEarned"]
	if payload == nil {
		t.Fatal("expected a pointsEarned notification")
	}
	if payload["points"] != 100 {
		t.Fatalf("expected 100 points for purchase_completed, got %v", payload["points"])
	}
}

func TestTrack_HourlyCapScenario(t *testing.T) {
	// 11 social_share tracks in one hour bucket: exactly 10 forward.
	ledger := &fakeLedger{}
	nowMillis := int64(3_600_000 * 700)
	now := func() time.Time { return time.UnixMilli(nowMillis) }

	cfg := testConfig()
	cfg.Mappings = map[domain.ActionKind]domain.Mapping{
		domain.KindSocialShare: {Points: 10, CooldownMillis: 0},
	}
	a := newTestAdapter(t, cfg, Options{Now: now})
	a.AttachLedger(context.Background(), ledger)

	forwarded := 0
	for i := 0; i < 11; i++ {
		if a.Track(context.Background(), domain.KindSocialShare, nil) {
			forwarded++
		}
		nowMillis += 1000
	}
	if forwarded != 10 {
		t.Fatalf("expected exactly 10 forwarded, got %d", forwarded)
	}
}

func TestTrack_UnknownKindDenied(t *testing.T) {
	a := newTestAdapter(t, testConfig(), Options{})
	a.AttachLedger(context.Background(), &fakeLedger{})
	if a.Track(context.Background(), "mystery_action", nil) {
		t.Fatal("unconfigured kind should be denied")
	}
	if got := a.Status().QueuedCount; got != 0 {
		t.Fatalf("denied occurrence must not be queued, queuedCount=%d", got)
	}
}

func TestTrack_DenialsNeverQueued(t *testing.T) {
	nowMillis := int64(3_600_000 * 700)
	now := func() time.Time { return time.UnixMilli(nowMillis) }
	a := newTestAdapter(t, testConfig(), Options{Now: now})
	a.AttachLedger(context.Background(), &fakeLedger{})

	a.Track(context.Background(), domain.KindUserSignup, nil)
	nowMillis += 1000
	a.Track(context.Background(), domain.KindUserSignup, nil) // cooldown denial
	if got := a.Status().QueuedCount; got != 0 {
		t.Fatalf("cooldown denial must not be queued, queuedCount=%d", got)
	}
}

func TestTrack_FailedSubmissionRequeued(t *testing.T) {
	ledger := &fakeLedger{fail: true}
	a := newTestAdapter(t, testConfig(), Options{})
	a.AttachLedger(context.Background(), ledger)

	if a.Track(context.Background(), domain.KindPurchaseCompleted, nil) {
		t.Fatal("failed submission should report false")
	}
	if got := a.Status().QueuedCount; got != 1 {
		t.Fatalf("failed submission should be re-queued, queuedCount=%d", got)
	}

	// A later drain with a healthy ledger forwards the entry.
	ledger.fail = false
	if n := a.Drain(context.Background()); n != 1 {
		t.Fatalf("expected drain to forward 1, got %d", n)
	}
	if got := a.Status().QueuedCount; got != 0 {
		t.Fatalf("queue should be empty after drain, got %d", got)
	}
}

func TestTrack_QueuedEntriesDoNotConsumeBudget(t *testing.T) {
	// Cooldown applies only to forwarded occurrences: queueing the same
	// kind twice is allowed, and both forward on drain only if admission
	// still holds at drain time.
	nowMillis := int64(3_600_000 * 700)
	now := func() time.Time { return time.UnixMilli(nowMillis) }
	a := newTestAdapter(t, testConfig(), Options{Now: now})

	a.Track(context.Background(), domain.KindUserSignup, nil)
	nowMillis += 1000
	a.Track(context.Background(), domain.KindUserSignup, nil)
	if got := a.Status().QueuedCount; got != 2 {
		t.Fatalf("both occurrences should queue while no capability, got %d", got)
	}

	ledger := &fakeLedger{}
	if n := a.AttachLedger(context.Background(), ledger); n != 1 {
		t.Fatalf("drain should forward 1 (second denied by cooldown), got %d", n)
	}
	if got := a.Status().QueuedCount; got != 0 {
		t.Fatalf("drain-time denial must be dropped, not re-queued, got %d", got)
	}
}

func TestStatus_Snapshot(t *testing.T) {
	a := newTestAdapter(t, testConfig(), Options{})
	st := a.Status()
	if !st.Initialized || st.HasCapability || st.QueuedCount != 0 || st.Version != Version {
		t.Fatalf("unexpected status: %+v", st)
	}
	a.AttachLedger(context.Background(), &fakeLedger{})
	if !a.Status().HasCapability {
		t.Fatal("expected capability after attach")
	}
}

func TestUpdateConfig_MergesImmediately(t *testing.T) {
	ledger := &fakeLedger{}
	nowMillis := int64(3_600_000 * 700)
	now := func() time.Time { return time.UnixMilli(nowMillis) }
	a := newTestAdapter(t, testConfig(), Options{Now: now})
	a.AttachLedger(context.Background(), ledger)

	newKind := domain.ActionKind("beta_feedback")
	if a.Track(context.Background(), newKind, nil) {
		t.Fatal("kind not yet configured")
	}
	a.UpdateConfig(ConfigPatch{Mappings: map[domain.ActionKind]domain.Mapping{
		newKind: {Points: 5, CooldownMillis: 0},
	}})
	if !a.Track(context.Background(), newKind, nil) {
		t.Fatal("kind should be accepted after config update")
	}

	one := 1
	a.UpdateConfig(ConfigPatch{MaxEventsPerHour: &one})
	nowMillis += 1000
	if a.Track(context.Background(), newKind, nil) {
		t.Fatal("lowered hourly cap should apply immediately")
	}

	off := false
	a.UpdateConfig(ConfigPatch{AutoDetection: &off})
	if a.AutoDetectionEnabled() {
		t.Fatal("auto detection should be off")
	}
}

func TestOriginAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://shop.example"}
	a := newTestAdapter(t, cfg, Options{})
	if !a.OriginAllowed("https://shop.example") {
		t.Fatal("configured origin should be allowed")
	}
	if a.OriginAllowed("https://evil.example") {
		t.Fatal("unlisted origin should be rejected")
	}
}
