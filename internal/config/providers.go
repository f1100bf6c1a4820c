package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvPrefix lets a deployment scope variables to this service. KQL_JWT_SECRET
// takes precedence over JWT_SECRET.
const EnvPrefix = "KQL_"

// SecretProvider is one source of configuration values. Keys are always in
// environment variable form (LOG_ANALYTICS_API_KEY).
type SecretProvider interface {
	// GetSecret returns the value for key, or "" when the provider has none
	GetSecret(ctx context.Context, key string) (string, error)

	// Name identifies the provider in logs
	Name() string

	// IsAvailable reports whether the provider can be consulted at all
	IsAvailable(ctx context.Context) bool
}

// ChainProvider asks each available provider in turn; the first non-empty
// value wins.
type ChainProvider struct {
	providers []SecretProvider
}

// NewChainProvider creates a chain consulted in the given order
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

// GetSecret returns the first non-empty value for key
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value, _, err := c.Lookup(ctx, key)
	return value, err
}

// Lookup is GetSecret that also names the provider that supplied the value
func (c *ChainProvider) Lookup(ctx context.Context, key string) (value, source string, err error) {
	var lastErr error

	for _, p := range c.providers {
		if !p.IsAvailable(ctx) {
			continue
		}

		v, err := p.GetSecret(ctx, key)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}
		if v != "" {
			return v, p.Name(), nil
		}
	}

	if lastErr != nil {
		return "", "", fmt.Errorf("no provider supplied %s, last error: %w", key, lastErr)
	}
	return "", "", fmt.Errorf("no provider supplied %s", key)
}

// Name returns the chain provider name
func (c *ChainProvider) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// IsAvailable reports whether any provider in the chain is available
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// EnvProvider reads environment variables, preferring the prefixed form
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider using EnvPrefix
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: EnvPrefix}
}

// GetSecret returns $PREFIX<key> if set, else $<key>
func (e *EnvProvider) GetSecret(_ context.Context, key string) (string, error) {
	if e.prefix != "" && !strings.HasPrefix(key, e.prefix) {
		if v, ok := os.LookupEnv(e.prefix + key); ok && v != "" {
			return v, nil
		}
	}
	return os.Getenv(key), nil
}

// Name returns the provider name
func (e *EnvProvider) Name() string {
	return "env"
}

// IsAvailable is always true
func (e *EnvProvider) IsAvailable(context.Context) bool {
	return true
}

// FileProvider reads one secret per file from a directory. A key is looked
// up as its kebab-case file name (LOG_ANALYTICS_API_KEY ->
// log-analytics-api-key, the Kubernetes convention) and then under its exact
// name (the Docker secrets convention).
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider rooted at dir
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// GetSecret returns the trimmed file content, or "" when no file exists
func (f *FileProvider) GetSecret(_ context.Context, key string) (string, error) {
	if f.dir == "" {
		return "", fmt.Errorf("secrets directory not configured")
	}

	for _, name := range secretFileNames(key) {
		path := filepath.Join(f.dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
		}
	}
	return "", nil
}

func secretFileNames(key string) []string {
	kebab := strings.ToLower(strings.ReplaceAll(key, "_", "-"))
	if kebab == key {
		return []string{key}
	}
	return []string{kebab, key}
}

// Name returns the provider name
func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable reports whether the directory exists
func (f *FileProvider) IsAvailable(context.Context) bool {
	if f.dir == "" {
		return false
	}
	info, err := os.Stat(f.dir)
	return err == nil && info.IsDir()
}
