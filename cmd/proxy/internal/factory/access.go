package factory

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	goredis "github.com/redis/go-redis/v9"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/access"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/config"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/discovery/kubernetes"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/discovery/memory"
	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/discovery/redis"
)

// AccessFactory builds the allow-list from every configured source
type AccessFactory struct {
	cfg *config.Config
	log *slog.Logger
}

// NewAccessFactory creates a new access factory
func NewAccessFactory(cfg *config.Config, log *slog.Logger) *AccessFactory {
	return &AccessFactory{cfg: cfg, log: log}
}

// Create loads every source once and resolves host names. The result is
// immutable for the life of the process.
func (f *AccessFactory) Create(ctx context.Context) (*access.List, error) {
	var sources []access.Source

	if f.cfg.AllowedSources != "" {
		f.log.Info("Using static allow-list", "entries", f.cfg.AllowedSources)
		sources = append(sources, memory.NewSource(f.cfg.AllowedSources))
	}

	if f.cfg.AccessLabelSelector != "" {
		clientset, err := f.createKubernetesClient()
		if err != nil {
			return nil, err
		}
		f.log.Info("Using Kubernetes allow-list",
			"namespace", f.cfg.Namespace,
			"selector", f.cfg.AccessLabelSelector)
		sources = append(sources, kubernetes.NewSource(clientset, f.cfg.Namespace, f.cfg.AccessLabelSelector))
	}

	if f.cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     f.cfg.RedisAddr,
			Password: f.cfg.RedisPassword,
			DB:       f.cfg.RedisDB,
		})
		// Read once, the list does not follow later changes
		defer client.Close()
		f.log.Info("Using Redis allow-list", "addr", f.cfg.RedisAddr, "key", f.cfg.RedisAllowlistKey)
		sources = append(sources, redis.NewSource(client, f.cfg.RedisAllowlistKey))
	}

	list, err := access.Build(ctx, net.DefaultResolver, f.log, sources...)
	if err != nil {
		return nil, err
	}
	f.log.Info("Allow-list ready", "entries", list.Len())
	return list, nil
}

func (f *AccessFactory) createKubernetesClient() (*k8s.Clientset, error) {
	kubeconfig := f.cfg.KubeConfigPath

	// Outside a cluster fall back to the user's kubeconfig
	if kubeconfig == "" && os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
		if home := os.Getenv("HOME"); home != "" {
			kubeconfig = home + "/.kube/config"
		}
	}

	configOverrides := &clientcmd.ConfigOverrides{}
	if f.cfg.KubeContext != "" {
		configOverrides.CurrentContext = f.cfg.KubeContext
		f.log.Info("Using specific Kubernetes context", "context", f.cfg.KubeContext)
	}

	var restConfig *rest.Config
	var err error

	// Try kubeconfig first (for VM/Container runtime or explicit config)
	if kubeconfig != "" {
		restConfig, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
			configOverrides,
		).ClientConfig()

		if err != nil {
			f.log.Warn("Failed to load kubeconfig, will try in-cluster config", "error", err)
		}
	}

	// Fallback to in-cluster config (for Kubernetes runtime)
	if restConfig == nil {
		f.log.Info("Attempting in-cluster Kubernetes configuration")
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config (tried kubeconfig and in-cluster): %w", err)
		}
	}

	clientset, err := k8s.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return clientset, nil
}
