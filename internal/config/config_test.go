package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/engagekit/rewardpipe/internal/domain"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("PACKAGE_ID", "pkg-1")
	t.Setenv("PARTNER_CAP_ID", "cap-1")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("default port: got %s", cfg.Port)
	}
	if cfg.MaxEventsPerHour != 10 {
		t.Fatalf("default max events/hour: got %d", cfg.MaxEventsPerHour)
	}
	if !cfg.EnableAutoDetection {
		t.Fatal("auto detection should default to true")
	}
}

func TestAPIKeys_CSV(t *testing.T) {
	s := Service{APIKeysCSV: " k1, k2 ,,k3"}
	keys := s.APIKeys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, ok := keys[k]; !ok {
			t.Fatalf("missing key %s", k)
		}
	}
}

func TestPipelineConfig_MappingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.yaml")
	content := "beta_feedback:\n  points: 5\n  cooldown_ms: 60000\nsocial_share:\n  points: 20\n  cooldown_ms: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s := Service{PackageID: "pkg", PartnerCapID: "cap", MaxEventsPerHour: 10, EventMappingsFile: path}
	cfg, err := s.PipelineConfig()
	if err != nil {
		t.Fatalf("PipelineConfig: %v", err)
	}
	if m := cfg.Mappings["beta_feedback"]; m.Points != 5 || m.CooldownMillis != 60000 {
		t.Fatalf("beta_feedback mapping wrong: %+v", m)
	}
	if m := cfg.Mappings[domain.KindSocialShare]; m.Points != 20 {
		t.Fatalf("social_share override wrong: %+v", m)
	}
}

func TestPipelineConfig_RejectsNegativeMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.yaml")
	if err := os.WriteFile(path, []byte("bad:\n  points: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := Service{PackageID: "pkg", PartnerCapID: "cap", EventMappingsFile: path}
	if _, err := s.PipelineConfig(); err == nil {
		t.Fatal("negative points should be rejected")
	}
}
