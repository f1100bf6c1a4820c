package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// YAMLProvider reads settings from a YAML file. Nested keys are flattened
// into the environment variable form the Loader asks for:
//
//	log_analytics:
//	  workspace_id: abc   ->  LOG_ANALYTICS_WORKSPACE_ID=abc
//
// Lists are joined with commas.
type YAMLProvider struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

// NewYAMLProvider creates a provider for the file at path. An empty path
// yields an unavailable provider.
func NewYAMLProvider(path string) *YAMLProvider {
	return &YAMLProvider{path: path}
}

// GetSecret returns the flattened value for key, or "" when absent
func (y *YAMLProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if y.path == "" {
		return "", fmt.Errorf("config file path not configured")
	}

	y.once.Do(y.load)
	if y.err != nil {
		return "", y.err
	}
	return y.values[key], nil
}

// Name returns the provider name
func (y *YAMLProvider) Name() string {
	return "yaml"
}

// IsAvailable checks if the config file exists
func (y *YAMLProvider) IsAvailable(ctx context.Context) bool {
	if y.path == "" {
		return false
	}
	info, err := os.Stat(y.path)
	return err == nil && !info.IsDir()
}

// Keys lists the flattened keys found in the file
func (y *YAMLProvider) Keys() ([]string, error) {
	y.once.Do(y.load)
	if y.err != nil {
		return nil, y.err
	}
	keys := make([]string, 0, len(y.values))
	for k := range y.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (y *YAMLProvider) load() {
	data, err := os.ReadFile(y.path)
	if err != nil {
		y.err = fmt.Errorf("failed to read config file %s: %w", y.path, err)
		return
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		y.err = fmt.Errorf("failed to parse config file %s: %w", y.path, err)
		return
	}

	y.values = make(map[string]string)
	flatten("", doc, y.values)
}

func flatten(prefix string, node interface{}, out map[string]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			flatten(joinKey(prefix, k), child, out)
		}
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func joinKey(prefix, key string) string {
	key = strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}
