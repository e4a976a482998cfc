package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nugget/refine/internal/config"
)

// The shipped example must load cleanly.
func TestConfigYAML_Loads(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-example")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != config.ProviderAnthropic {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Credential() != "sk-ant-example" {
		t.Errorf("credential = %q, want env expansion", cfg.Credential())
	}
	if cfg.Generator.Model != config.DefaultModel || cfg.Generator.MaxTokens != config.DefaultMaxTokens {
		t.Errorf("generator = %+v", cfg.Generator)
	}
	if !cfg.Usage.Enabled || !cfg.Generator.SectionCheckEnabled() {
		t.Error("example enables the usage ledger and section checking")
	}
}
