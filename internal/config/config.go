package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/engagekit/rewardpipe/internal/domain"
	"github.com/engagekit/rewardpipe/internal/pipeline"
)

// Service is the full service configuration, loaded from environment
// variables. PACKAGE_ID and PARTNER_CAP_ID are required; the pipeline
// constructor rejects empty values.
type Service struct {
	Port        string `env:"PORT" envDefault:"8080"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	PackageID    string `env:"PACKAGE_ID"`
	PartnerCapID string `env:"PARTNER_CAP_ID"`
	RPCURL       string `env:"RPC_URL"`

	Origin              string   `env:"ORIGIN" envDefault:"http://localhost"`
	AllowedOrigins      []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxEventsPerHour    int      `env:"MAX_EVENTS_PER_HOUR" envDefault:"10"`
	EnableAutoDetection bool     `env:"ENABLE_AUTO_DETECTION" envDefault:"true"`

	// EventMappingsFile optionally points at a YAML file overriding or
	// extending the built-in reward table.
	EventMappingsFile string `env:"EVENT_MAPPINGS_FILE"`

	APIKeysCSV            string `env:"API_KEYS"`
	MaxBodyBytes          int64  `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	RateLimitPointsPerMin int    `env:"RATE_LIMIT_POINTS_PER_MIN" envDefault:"20"`
}

// Parse loads the service configuration from the environment.
func Parse() (Service, error) {
	var cfg Service
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// APIKeys returns the configured API keys as a set. An empty set
// disables API-key auth.
func (s Service) APIKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, k := range strings.Split(s.APIKeysCSV, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

// PipelineConfig assembles the pipeline configuration, loading the
// event-mappings file when one is configured.
func (s Service) PipelineConfig() (pipeline.Config, error) {
	mappings, err := loadMappings(s.EventMappingsFile)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		PackageID:        s.PackageID,
		PartnerCapID:     s.PartnerCapID,
		RPCURL:           s.RPCURL,
		Origin:           s.Origin,
		AllowedOrigins:   s.AllowedOrigins,
		MaxEventsPerHour: s.MaxEventsPerHour,
		Mappings:         mappings,
		AutoDetection:    s.EnableAutoDetection,
	}, nil
}

func loadMappings(path string) (map[domain.ActionKind]domain.Mapping, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event mappings: %w", err)
	}
	var out map[domain.ActionKind]domain.Mapping
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse event mappings: %w", err)
	}
	for kind, m := range out {
		if m.Points < 0 {
			return nil, fmt.Errorf("event mappings: %s: points must be non-negative", kind)
		}
		if m.CooldownMillis < 0 {
			return nil, fmt.Errorf("event mappings: %s: cooldown_ms must be non-negative", kind)
		}
	}
	return out, nil
}
