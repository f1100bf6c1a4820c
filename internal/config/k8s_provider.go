package config

import (
	"context"
	"os"
	"strings"
)

const (
	serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"
	defaultSecretsDir = "/var/secrets"
)

// K8sProvider reads secrets mounted into a pod. Kubernetes mounts each key
// of a Secret as a file, so lookups delegate to a FileProvider rooted at
// the mount path.
type K8sProvider struct {
	fileProvider *FileProvider
	namespace    string
}

// NewK8sProvider creates a new Kubernetes secret provider. An empty
// secretsPath means /var/secrets; an empty namespace is read from the pod's
// service account, falling back to "default".
func NewK8sProvider(secretsPath, namespace string) *K8sProvider {
	if secretsPath == "" {
		secretsPath = defaultSecretsDir
	}
	if namespace == "" {
		namespace = detectNamespace(serviceAccountDir + "/namespace")
	}

	return &K8sProvider{
		fileProvider: NewFileProvider(secretsPath),
		namespace:    namespace,
	}
}

func detectNamespace(path string) string {
	ns, err := os.ReadFile(path)
	if err != nil {
		return "default"
	}
	if trimmed := strings.TrimSpace(string(ns)); trimmed != "" {
		return trimmed
	}
	return "default"
}

// GetSecret retrieves a secret from the mounted secret files
func (k *K8sProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return k.fileProvider.GetSecret(ctx, key)
}

// Name returns the provider name
func (k *K8sProvider) Name() string {
	return "kubernetes"
}

// IsAvailable checks if running in a Kubernetes environment
func (k *K8sProvider) IsAvailable(ctx context.Context) bool {
	if _, err := os.Stat(serviceAccountDir + "/token"); err == nil {
		return k.fileProvider.IsAvailable(ctx)
	}
	return false
}

// GetNamespace returns the current Kubernetes namespace
func (k *K8sProvider) GetNamespace() string {
	return k.namespace
}
