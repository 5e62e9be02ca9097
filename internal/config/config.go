// Package config loads the service configuration: runtime settings from
// environment variables (with an optional .env file for local development)
// and the billing topology (tracker instances, reconciliation groups) from a
// YAML file.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"timebill.org/internal/billing"
	"timebill.org/internal/reconcile"
	"timebill.org/internal/tracker"
)

// Config is the full service configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// PGDSN selects the Postgres store; empty runs the in-memory store.
	PGDSN string

	// AuthSecret enables bearer-token authentication when set.
	AuthSecret string

	// AuditPath is the audit log file; empty logs to stderr.
	AuditPath string

	Billing BillingConfig
}

// BillingConfig is the YAML-side configuration.
type BillingConfig struct {
	// DefaultHourlyRate is the company-wide fallback rate, as a decimal
	// string ("95.00").
	DefaultHourlyRate string `yaml:"default_hourly_rate"`

	Instances []tracker.Instance `yaml:"instances"`

	Reconciliation struct {
		Groups     []reconcile.Group `yaml:"groups"`
		Exclusions []string          `yaml:"exclusions"`
	} `yaml:"reconciliation"`
}

// CompanyDefault parses the fallback rate; (nil, nil) when unset.
func (b BillingConfig) CompanyDefault() (*billing.Amount, error) {
	if b.DefaultHourlyRate == "" {
		return nil, nil
	}
	a, err := billing.ParseAmount(b.DefaultHourlyRate)
	if err != nil {
		return nil, fmt.Errorf("default_hourly_rate: %w", err)
	}
	return &a, nil
}

// InstanceNames lists the configured tracker instances in file order.
func (b BillingConfig) InstanceNames() []string {
	names := make([]string, 0, len(b.Instances))
	for _, inst := range b.Instances {
		names = append(names, inst.Name)
	}
	return names
}

// Load reads the environment (after merging an optional .env file) and the
// YAML file named by TIMEBILL_CONFIG, when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:       getenv("TIMEBILL_ADDR", ":8080"),
		PGDSN:      os.Getenv("TIMEBILL_PG_DSN"),
		AuthSecret: os.Getenv("TIMEBILL_AUTH_SECRET"),
		AuditPath:  os.Getenv("TIMEBILL_AUDIT_PATH"),
	}

	path := os.Getenv("TIMEBILL_CONFIG")
	if path == "" {
		return cfg, nil
	}
	billingCfg, err := LoadBilling(path)
	if err != nil {
		return Config{}, err
	}
	cfg.Billing = billingCfg
	return cfg, nil
}

// LoadBilling parses one YAML topology file.
func LoadBilling(path string) (BillingConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BillingConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg BillingConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return BillingConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return BillingConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (b BillingConfig) validate() error {
	if _, err := b.CompanyDefault(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(b.Instances))
	for _, inst := range b.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instance without a name")
		}
		if _, dup := seen[inst.Name]; dup {
			return fmt.Errorf("duplicate instance %q", inst.Name)
		}
		seen[inst.Name] = struct{}{}
	}
	for _, g := range b.Reconciliation.Groups {
		if g.Name == "" {
			return fmt.Errorf("reconciliation group without a name")
		}
		if len(g.Primary) == 0 || len(g.Secondary) == 0 {
			return fmt.Errorf("reconciliation group %q needs both sides", g.Name)
		}
		for _, inst := range append(append([]string{}, g.Primary...), g.Secondary...) {
			if _, ok := seen[inst]; !ok {
				return fmt.Errorf("reconciliation group %q references unknown instance %q", g.Name, inst)
			}
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
