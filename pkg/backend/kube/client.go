// Package kube implements the cluster compute-unit backend. Each instance
// runs as a single pod created through the typed Kubernetes clientset.
package kube

import (
	"context"
	"fmt"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/config"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

// Client is the cluster backend.
type Client struct {
	client     kubernetes.Interface
	restConfig *rest.Config
	namespace  string
	tracker    *backend.Tracker
	cfg        config.Config
}

var _ backend.Backend = (*Client)(nil)

// NewClient connects to the cluster, preferring the in-cluster service
// account and falling back to the local kubeconfig.
func NewClient(_ context.Context, cfg config.Config) (*Client, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		restConfig, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, errors.NewBackendUnavailableError("no cluster configuration available", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.NewBackendUnavailableError(fmt.Sprintf("failed to create kubernetes client: %v", err), err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = currentNamespace()
	}
	logger.Debugf("Cluster backend using namespace %s", namespace)

	return &Client{
		client:     clientset,
		restConfig: restConfig,
		namespace:  namespace,
		tracker:    backend.NewTracker(),
		cfg:        cfg,
	}, nil
}

// Tag returns the cluster backend tag.
func (*Client) Tag() backend.Tag {
	return backend.TagCluster
}

// CheckHealth asks the API server's health endpoint within the context's
// deadline.
func (c *Client) CheckHealth(ctx context.Context) error {
	result := c.client.Discovery().RESTClient().Get().AbsPath("/healthz").Do(ctx)
	if err := result.Error(); err != nil {
		return errors.NewBackendUnavailableError(fmt.Sprintf("cluster health check failed: %v", err), err)
	}
	return nil
}

// currentNamespace resolves the namespace this process runs in, trying the
// service account mount, then the POD_NAMESPACE variable, then "default".
func currentNamespace() string {
	if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		return string(data)
	}
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns
	}
	return "default"
}
