package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timebill.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const goodYAML = `
default_hourly_rate: "95.00"
instances:
  - name: jira-internal
    tempo_url: https://api.tempo.io/4
    tempo_token: t1
    jira_url: https://internal.example.com
  - name: jira-client
    tempo_url: https://api.tempo.io/4
    tempo_token: t2
    jira_url: https://client.example.com
reconciliation:
  groups:
    - name: acme-mirror
      primary: [jira-internal]
      secondary: [jira-client]
  exclusions:
    - "ASS-*"
`

func TestLoadBilling(t *testing.T) {
	cfg, err := LoadBilling(writeConfig(t, goodYAML))
	if err != nil {
		t.Fatal(err)
	}
	rate, err := cfg.CompanyDefault()
	if err != nil {
		t.Fatal(err)
	}
	if rate == nil || *rate != 9500 {
		t.Fatalf("company default = %v, want 95.00", rate)
	}
	if names := cfg.InstanceNames(); len(names) != 2 || names[0] != "jira-internal" {
		t.Fatalf("instances = %v", names)
	}
	if len(cfg.Reconciliation.Groups) != 1 || cfg.Reconciliation.Groups[0].Name != "acme-mirror" {
		t.Fatalf("groups = %+v", cfg.Reconciliation.Groups)
	}
	if len(cfg.Reconciliation.Exclusions) != 1 || cfg.Reconciliation.Exclusions[0] != "ASS-*" {
		t.Fatalf("exclusions = %v", cfg.Reconciliation.Exclusions)
	}
}

func TestLoadBillingRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"duplicate instance",
			"instances:\n  - name: a\n  - name: a\n",
			"duplicate instance",
		},
		{
			"unknown instance in group",
			"instances:\n  - name: a\nreconciliation:\n  groups:\n    - name: g\n      primary: [a]\n      secondary: [ghost]\n",
			"unknown instance",
		},
		{
			"one-sided group",
			"instances:\n  - name: a\nreconciliation:\n  groups:\n    - name: g\n      primary: [a]\n",
			"both sides",
		},
		{
			"bad default rate",
			"default_hourly_rate: \"95.001\"\n",
			"default_hourly_rate",
		},
		{
			"unknown key",
			"default_hourly_rat: \"95.00\"\n",
			"parsing",
		},
	}
	for _, tc := range cases {
		_, err := LoadBilling(writeConfig(t, tc.yaml))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want error containing %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TIMEBILL_ADDR", ":9999")
	t.Setenv("TIMEBILL_PG_DSN", "postgres://localhost/timebill")
	t.Setenv("TIMEBILL_AUTH_SECRET", "s3cret")
	t.Setenv("TIMEBILL_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9999" || cfg.PGDSN != "postgres://localhost/timebill" || cfg.AuthSecret != "s3cret" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
