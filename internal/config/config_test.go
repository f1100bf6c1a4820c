package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnvProvider(t *testing.T) {
	ctx := context.Background()

	os.Setenv("TEST_SECRET", "test-value")
	defer os.Unsetenv("TEST_SECRET")

	provider := NewEnvProvider()

	t.Run("retrieves existing env var", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "TEST_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "test-value" {
			t.Errorf("expected 'test-value', got '%s'", value)
		}
	})

	t.Run("returns empty for non-existent env var", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "NON_EXISTENT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "" {
			t.Errorf("expected empty string, got '%s'", value)
		}
	})

	t.Run("is always available", func(t *testing.T) {
		if !provider.IsAvailable(ctx) {
			t.Error("env provider should always be available")
		}
	})

	t.Run("prefixed variable wins", func(t *testing.T) {
		t.Setenv("KQL_TEST_SECRET", "scoped-value")

		value, err := provider.GetSecret(ctx, "TEST_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "scoped-value" {
			t.Errorf("expected 'scoped-value', got '%s'", value)
		}
	})

	t.Run("empty prefixed variable is ignored", func(t *testing.T) {
		t.Setenv("KQL_TEST_SECRET", "")

		value, _ := provider.GetSecret(ctx, "TEST_SECRET")
		if value != "test-value" {
			t.Errorf("expected 'test-value', got '%s'", value)
		}
	})
}

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	err := os.WriteFile(filepath.Join(tmpDir, "log-analytics-bearer-token"), []byte("la-token\n"), 0600)
	if err != nil {
		t.Fatalf("failed to create test secret file: %v", err)
	}

	provider := NewFileProvider(tmpDir)

	t.Run("retrieves secret from file", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "LOG_ANALYTICS_BEARER_TOKEN")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "la-token" {
			t.Errorf("expected 'la-token', got '%s'", value)
		}
	})

	t.Run("falls back to the exact key name", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(tmpDir, "JWT_SECRET"), []byte("docker-secret"), 0600); err != nil {
			t.Fatalf("failed to create test secret file: %v", err)
		}
		value, err := provider.GetSecret(ctx, "JWT_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "docker-secret" {
			t.Errorf("expected 'docker-secret', got '%s'", value)
		}
	})

	t.Run("returns empty for non-existent file", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "NON_EXISTENT_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "" {
			t.Errorf("expected empty string, got '%s'", value)
		}
	})

	t.Run("is not available when directory doesn't exist", func(t *testing.T) {
		if NewFileProvider("/non/existent/path").IsAvailable(ctx) {
			t.Error("file provider should not be available for non-existent directory")
		}
	})

	t.Run("is not available when path is a file not directory", func(t *testing.T) {
		tmpFile := filepath.Join(tmpDir, "not-a-directory")
		if err := os.WriteFile(tmpFile, []byte("content"), 0600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		if NewFileProvider(tmpFile).IsAvailable(ctx) {
			t.Error("file provider should not be available when path is a file")
		}
	})

	t.Run("returns error when secrets path not configured", func(t *testing.T) {
		if _, err := NewFileProvider("").GetSecret(ctx, "ANY_KEY"); err == nil {
			t.Error("expected error when secrets path is empty")
		}
	})
}

func TestYAMLProvider(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "kql.yaml")

	doc := `
log_analytics:
  endpoint: https://la.example.com
  workspace_id: ws-123
  timeout: 10s
macros:
  default-time-column: Timestamp
query:
  forbidden_commands:
    - .drop
    - .purge
  enable_safety_checks: false
port: 9090
`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	provider := NewYAMLProvider(path)

	t.Run("is available when file exists", func(t *testing.T) {
		if !provider.IsAvailable(ctx) {
			t.Error("yaml provider should be available")
		}
	})

	t.Run("flattens nested keys", func(t *testing.T) {
		tests := map[string]string{
			"LOG_ANALYTICS_ENDPOINT":     "https://la.example.com",
			"LOG_ANALYTICS_WORKSPACE_ID": "ws-123",
			"LOG_ANALYTICS_TIMEOUT":      "10s",
			"MACROS_DEFAULT_TIME_COLUMN": "Timestamp",
			"QUERY_FORBIDDEN_COMMANDS":   ".drop,.purge",
			"QUERY_ENABLE_SAFETY_CHECKS": "false",
			"PORT":                       "9090",
		}
		for key, want := range tests {
			got, err := provider.GetSecret(ctx, key)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", key, err)
			}
			if got != want {
				t.Errorf("%s: expected '%s', got '%s'", key, want, got)
			}
		}
	})

	t.Run("returns empty for missing key", func(t *testing.T) {
		got, err := provider.GetSecret(ctx, "NOT_THERE")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty string, got '%s'", got)
		}
	})

	t.Run("lists keys sorted", func(t *testing.T) {
		keys, err := provider.Keys()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(keys) != 7 || keys[0] != "LOG_ANALYTICS_ENDPOINT" {
			t.Errorf("unexpected keys: %v", keys)
		}
	})

	t.Run("is not available without a path", func(t *testing.T) {
		if NewYAMLProvider("").IsAvailable(ctx) {
			t.Error("yaml provider without a path should not be available")
		}
	})

	t.Run("reports malformed files", func(t *testing.T) {
		bad := filepath.Join(tmpDir, "bad.yaml")
		if err := os.WriteFile(bad, []byte("a: [unterminated"), 0600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		if _, err := NewYAMLProvider(bad).GetSecret(ctx, "A"); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestChainProvider(t *testing.T) {
	ctx := context.Background()

	os.Setenv("ENV_SECRET", "from-env")
	defer os.Unsetenv("ENV_SECRET")

	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "file-secret"), []byte("from-file"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	chain := NewChainProvider(NewFileProvider(tmpDir), NewEnvProvider())

	t.Run("uses first available provider", func(t *testing.T) {
		value, err := chain.GetSecret(ctx, "FILE_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "from-file" {
			t.Errorf("expected 'from-file', got '%s'", value)
		}
	})

	t.Run("falls back to next provider", func(t *testing.T) {
		value, err := chain.GetSecret(ctx, "ENV_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "from-env" {
			t.Errorf("expected 'from-env', got '%s'", value)
		}
	})

	t.Run("env overrides yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "override.yaml")
		if err := os.WriteFile(path, []byte("env_secret: from-yaml\nyaml_only: only-here\n"), 0600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		layered := NewChainProvider(NewEnvProvider(), NewYAMLProvider(path))

		value, _ := layered.GetSecret(ctx, "ENV_SECRET")
		if value != "from-env" {
			t.Errorf("expected 'from-env', got '%s'", value)
		}
		value, _ = layered.GetSecret(ctx, "YAML_ONLY")
		if value != "only-here" {
			t.Errorf("expected 'only-here', got '%s'", value)
		}
	})

	t.Run("lookup names the source", func(t *testing.T) {
		value, source, err := chain.Lookup(ctx, "ENV_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "from-env" || source != "env" {
			t.Errorf("expected from-env via env, got %s via %s", value, source)
		}

		_, source, _ = chain.Lookup(ctx, "FILE_SECRET")
		if source != "file" {
			t.Errorf("expected source 'file', got '%s'", source)
		}
	})

	t.Run("name lists members", func(t *testing.T) {
		if got := chain.Name(); got != "chain(file,env)" {
			t.Errorf("expected 'chain(file,env)', got '%s'", got)
		}
	})

	t.Run("returns error when all providers fail", func(t *testing.T) {
		emptyChain := NewChainProvider(NewFileProvider("/non/existent"))
		if _, err := emptyChain.GetSecret(ctx, "ANY_KEY"); err == nil {
			t.Error("expected error when all providers fail")
		}
		if emptyChain.IsAvailable(ctx) {
			t.Error("chain should not be available when no providers are available")
		}
	})
}

func TestConfigLoader(t *testing.T) {
	ctx := context.Background()

	testEnv := map[string]string{
		"DB_HOST":                    "test-host",
		"DB_PASSWORD":                "test-pass",
		"REDIS_ADDR":                 "test-redis:6379",
		"LOG_ANALYTICS_ENDPOINT":     "https://la.test",
		"LOG_ANALYTICS_WORKSPACE_ID": "ws-test",
		"LOG_ANALYTICS_AUTH_TYPE":    "apikey",
		"LOG_ANALYTICS_API_KEY":      "key-123",
		"MACRO_DEFAULT_TIME_COLUMN":  "Timestamp",
		"JWT_SECRET":                 "test-jwt-secret-with-sufficient-length-32chars",
		"RATE_LIMIT":                 "50",
		"DB_ENABLED":                 "false",
	}

	for k, v := range testEnv {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range testEnv {
			os.Unsetenv(k)
		}
	}()

	loader := NewLoader(NewEnvProvider())

	t.Run("loads all configuration sections", func(t *testing.T) {
		cfg, err := loader.Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error loading config: %v", err)
		}

		if cfg.Database.Host != "test-host" || cfg.Database.Enabled {
			t.Errorf("unexpected database config: %+v", cfg.Database)
		}
		if cfg.Redis.Addr != "test-redis:6379" {
			t.Errorf("expected Redis addr 'test-redis:6379', got '%s'", cfg.Redis.Addr)
		}
		if cfg.LogAnalytics.WorkspaceID != "ws-test" || cfg.LogAnalytics.APIKey != "key-123" {
			t.Errorf("unexpected log analytics config: %+v", cfg.LogAnalytics)
		}
		if cfg.Macros.DefaultTimeColumn != "Timestamp" {
			t.Errorf("expected time column 'Timestamp', got '%s'", cfg.Macros.DefaultTimeColumn)
		}
		if cfg.Auth.RateLimit != 50 {
			t.Errorf("expected rate limit 50, got %d", cfg.Auth.RateLimit)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected loaded config to validate, got: %v", err)
		}
	})

	t.Run("uses default values when env vars not set", func(t *testing.T) {
		for k := range testEnv {
			os.Unsetenv(k)
		}
		defer func() {
			for k, v := range testEnv {
				os.Setenv(k, v)
			}
		}()

		cfg, err := loader.Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Macros.DefaultTimeColumn != "TimeGenerated" {
			t.Errorf("expected default time column, got '%s'", cfg.Macros.DefaultTimeColumn)
		}
		if cfg.Macros.SelectAllValue != "all" {
			t.Errorf("expected default select-all value 'all', got '%s'", cfg.Macros.SelectAllValue)
		}
		if cfg.Macros.DefaultFrom != "now-6h" || cfg.Macros.DefaultTo != "now" {
			t.Errorf("unexpected default range %s..%s", cfg.Macros.DefaultFrom, cfg.Macros.DefaultTo)
		}
		if cfg.LogAnalytics.Endpoint != "https://api.loganalytics.io" {
			t.Errorf("unexpected default endpoint '%s'", cfg.LogAnalytics.Endpoint)
		}
		if !cfg.Database.Enabled {
			t.Error("history database should be enabled by default")
		}
		if len(cfg.Query.ForbiddenCommands) == 0 {
			t.Error("expected default forbidden commands")
		}
	})

	t.Run("parses durations and slices", func(t *testing.T) {
		os.Setenv("JWT_EXPIRY", "12h")
		os.Setenv("QUERY_TIMEOUT", "45s")
		os.Setenv("FORBIDDEN_COMMANDS", ".drop, .purge")
		defer os.Unsetenv("JWT_EXPIRY")
		defer os.Unsetenv("QUERY_TIMEOUT")
		defer os.Unsetenv("FORBIDDEN_COMMANDS")

		cfg, err := loader.Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Auth.JWTExpiry != 12*time.Hour {
			t.Errorf("expected JWT expiry 12h, got %v", cfg.Auth.JWTExpiry)
		}
		if cfg.Query.Timeout != 45*time.Second {
			t.Errorf("expected query timeout 45s, got %v", cfg.Query.Timeout)
		}
		if len(cfg.Query.ForbiddenCommands) != 2 || cfg.Query.ForbiddenCommands[1] != ".purge" {
			t.Errorf("unexpected forbidden commands: %v", cfg.Query.ForbiddenCommands)
		}
	})

	t.Run("invalid numbers fall back to defaults", func(t *testing.T) {
		os.Setenv("MAX_TEMPLATE_LENGTH", "lots")
		defer os.Unsetenv("MAX_TEMPLATE_LENGTH")

		cfg, err := loader.Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Query.MaxTemplateLength != 10000 {
			t.Errorf("expected default max template length, got %d", cfg.Query.MaxTemplateLength)
		}

		warnings := loader.Warnings()
		if len(warnings) != 1 || !strings.Contains(warnings[0], "MAX_TEMPLATE_LENGTH") {
			t.Errorf("expected one warning about MAX_TEMPLATE_LENGTH, got %v", warnings)
		}
		if _, ok := loader.Sources()["MAX_TEMPLATE_LENGTH"]; ok {
			t.Error("ignored value should not be reported as sourced")
		}
	})

	t.Run("records where values came from", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, "jwt-secret"), []byte("file-jwt-secret-with-sufficient-length"), 0600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		chained := NewLoader(NewChainProvider(NewFileProvider(tmpDir), NewEnvProvider()))

		cfg, err := chained.Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Auth.JWTSecret != "file-jwt-secret-with-sufficient-length" {
			t.Errorf("expected file secret to win, got '%s'", cfg.Auth.JWTSecret)
		}

		sources := chained.Sources()
		if sources["JWT_SECRET"] != "file" {
			t.Errorf("expected JWT_SECRET from file, got '%s'", sources["JWT_SECRET"])
		}
		if sources["DB_HOST"] != "env" {
			t.Errorf("expected DB_HOST from env, got '%s'", sources["DB_HOST"])
		}
		if _, ok := sources["QUERY_TIMEOUT"]; ok {
			t.Error("defaulted keys should not have a source")
		}
		if len(chained.Warnings()) != 0 {
			t.Errorf("unexpected warnings: %v", chained.Warnings())
		}
	})
}

func TestConfigLoaderYAML(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kql.yaml")
	doc := `
query:
  timeout: 45s
querry:
  timeout: 1s
macro:
  default_time_column: Timestamp
`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader(NewChainProvider(NewYAMLProvider(path)))
	cfg, err := loader.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Query.Timeout != 45*time.Second {
		t.Errorf("expected query timeout 45s, got %v", cfg.Query.Timeout)
	}
	if cfg.Macros.DefaultTimeColumn != "Timestamp" {
		t.Errorf("expected time column 'Timestamp', got '%s'", cfg.Macros.DefaultTimeColumn)
	}
	if got := loader.Sources()["QUERY_TIMEOUT"]; got != "yaml" {
		t.Errorf("expected QUERY_TIMEOUT from yaml, got '%s'", got)
	}

	warnings := loader.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "unknown setting QUERRY_TIMEOUT") {
		t.Errorf("expected one unknown-setting warning, got %v", warnings)
	}
}

func TestK8sProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("reads secrets from mounted kubernetes secret files", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, "jwt-secret"), []byte("k8s-jwt-secret-32-chars-minimum!"), 0600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		provider := NewK8sProvider(tmpDir, "test-namespace")

		jwtSecret, err := provider.GetSecret(ctx, "JWT_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jwtSecret != "k8s-jwt-secret-32-chars-minimum!" {
			t.Errorf("expected 'k8s-jwt-secret-32-chars-minimum!', got '%s'", jwtSecret)
		}
	})

	t.Run("is not available when secrets directory doesn't exist", func(t *testing.T) {
		if NewK8sProvider("/non/existent/path", "test-namespace").IsAvailable(ctx) {
			t.Error("provider should not be available when secrets directory doesn't exist")
		}
	})

	t.Run("returns namespace", func(t *testing.T) {
		if ns := NewK8sProvider("", "production").GetNamespace(); ns != "production" {
			t.Errorf("expected namespace 'production', got '%s'", ns)
		}
	})

	t.Run("has correct name", func(t *testing.T) {
		if NewK8sProvider("", "").Name() != "kubernetes" {
			t.Error("expected name 'kubernetes'")
		}
	})
}

func TestDetectNamespace(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "namespace")

	if got := detectNamespace(path); got != "default" {
		t.Errorf("expected 'default' for missing file, got '%s'", got)
	}

	if err := os.WriteFile(path, []byte("observability\n"), 0600); err != nil {
		t.Fatalf("failed to write namespace file: %v", err)
	}
	if got := detectNamespace(path); got != "observability" {
		t.Errorf("expected 'observability', got '%s'", got)
	}
}
