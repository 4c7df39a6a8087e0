package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpdock/mcpdock/pkg/api"
	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/backend/docker"
	"github.com/mcpdock/mcpdock/pkg/backend/kube"
	"github.com/mcpdock/mcpdock/pkg/config"
	"github.com/mcpdock/mcpdock/pkg/lifecycle"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mcpdock lifecycle API server",
	Long:  `Starts the lifecycle API server and listens for HTTP requests.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host address to bind the server to")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to bind the server to")
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if serveHost != "" {
		cfg.ListenHost = serveHost
	}
	if servePort != 0 {
		cfg.ListenPort = servePort
	}

	// Either substrate may be absent; the selector handles a missing one.
	var cluster, local backend.Backend
	if kubeBackend, err := kube.NewClient(ctx, cfg); err != nil {
		logger.Warnf("cluster backend unavailable: %v", err)
	} else {
		cluster = kubeBackend
	}
	if dockerBackend, err := docker.NewClient(ctx, cfg); err != nil {
		logger.Warnf("local backend unavailable: %v", err)
	} else {
		local = dockerBackend
	}
	if cluster == nil && local == nil {
		return fmt.Errorf("no compute backend available")
	}

	selector := backend.NewSelector(cluster, local, cfg.ProbeTimeout, cfg.ProbeCacheTTL)
	manager := lifecycle.NewManager(selector, cfg, versionString(), cluster, local)

	address := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	serveErr := api.Serve(ctx, address, manager)

	// The server is down; tear down whatever is still running.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer cancel()
	if err := manager.StopAll(stopCtx); err != nil {
		logger.Warnf("failed to stop all instances on shutdown: %v", err)
	}

	return serveErr
}
