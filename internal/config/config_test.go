package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(configPathEnv, "")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.AIProvider != ProviderGemini || cfg.Port != "8080" {
		t.Errorf("unexpected defaults: provider=%s port=%s", cfg.AIProvider, cfg.Port)
	}
	if cfg.Extraction.MaxAttempts != 3 || cfg.Extraction.BaseDelay != time.Second {
		t.Errorf("unexpected extraction defaults: %+v", cfg.Extraction)
	}
	if cfg.MaxFileSize != 10*1024*1024 {
		t.Errorf("max file size = %d", cfg.MaxFileSize)
	}
	if cfg.ModelAPIKey() != "" {
		t.Error("expected an empty API key to be accepted")
	}
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "receipts.yaml")
	yamlBody := `
extraction:
  max_attempts: 5
  base_delay: 250ms
  temperature: 0
persist_timeout: 3s
rate_limit:
  rps: 4
  burst: 8
ai:
  provider: openrouter
trusted_proxies:
  - 10.0.0.0/8
  - 192.0.2.50
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("EXTRACTION_MAX_ATTEMPTS", "2")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("PUBLIC_BASE_URL", "https://receipts.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Extraction.MaxAttempts != 2 {
		t.Errorf("env should win over file: max attempts = %d", cfg.Extraction.MaxAttempts)
	}
	if cfg.Extraction.BaseDelay != 250*time.Millisecond || cfg.Extraction.Temperature != 0 {
		t.Errorf("file values not applied: %+v", cfg.Extraction)
	}
	if cfg.PersistTimeout != 3*time.Second || cfg.RateLimitRPS != 4 || cfg.RateLimitBurst != 8 {
		t.Errorf("file values not applied: persist=%v rps=%v burst=%d", cfg.PersistTimeout, cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.AIProvider != ProviderOpenRouter || cfg.ModelAPIKey() != "sk-test" {
		t.Errorf("provider=%s key=%s", cfg.AIProvider, cfg.ModelAPIKey())
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("trusted proxies = %v", cfg.TrustedProxies)
	}
	if cfg.PublicBaseURL != "https://receipts.example.com" {
		t.Errorf("public base url = %q", cfg.PublicBaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct{ key, value string }{
		{"AI_PROVIDER", "watson"},
		{"EXTRACTION_MAX_ATTEMPTS", "zero"},
		{"EXTRACTION_MAX_ATTEMPTS", "64"},
		{"EXTRACTION_BASE_DELAY", "soon"},
		{"MAX_FILE_SIZE", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(configPathEnv, "")
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadTrustedProxiesFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(configPathEnv, "")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 {
		t.Errorf("trusted proxies = %v", cfg.TrustedProxies)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
