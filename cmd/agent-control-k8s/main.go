// agent-control-k8s is the cluster-mode entrypoint: it supervises
// sub-agents as Kubernetes objects via internal/supervisor/cluster
// instead of host processes. Shares every piece of the dependency
// graph with cmd/agent-control except Repository and Runtime
// construction, grounded on kagent-dev-kagent's
// in-cluster-config-first, kubeconfig-fallback pattern for resolving
// a *rest.Config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fleetcontrol/agent-control/internal/bootstrap"
	"github.com/fleetcontrol/agent-control/internal/configrepo"
	"github.com/fleetcontrol/agent-control/internal/control"
	"github.com/fleetcontrol/agent-control/internal/eventbus"
	"github.com/fleetcontrol/agent-control/internal/fleetclient"
	"github.com/fleetcontrol/agent-control/internal/identity"
	"github.com/fleetcontrol/agent-control/internal/runconfig"
	"github.com/fleetcontrol/agent-control/internal/statusapi"
	"github.com/fleetcontrol/agent-control/internal/supervisor/cluster"
	"github.com/fleetcontrol/agent-control/internal/version"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "agent-control-k8s",
		Short:   "Supervises newrelic sub-agents as Kubernetes objects",
		Version: version.String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "/etc/agent-control/agent-control.yaml", "path to the local configuration file")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := runconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := bootstrap.Logger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closeLog()

	registry, err := bootstrap.LoadRegistry(cfg.Paths.AgentTypesDir)
	if err != nil {
		return fmt.Errorf("loading agent types: %w", err)
	}

	restCfg, err := resolveKubeconfig(cfg.Cluster.Kubeconfig)
	if err != nil {
		return fmt.Errorf("resolving kubernetes config: %w", err)
	}
	dynClient, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("building dynamic client: %w", err)
	}
	client := cluster.NewClient(dynClient)

	repo := configrepo.NewClusterBackend(client, cfg.Cluster.Namespace)

	identityBackend := configrepo.NewIdentityBackend(filepath.Join(cfg.Paths.RemoteDir, "identity.json"))
	instanceID, err := identity.Resolve(identityBackend, identity.Tuple{
		HostID:    cfg.Cluster.Namespace,
		MachineID: podName(),
		FleetID:   fleetID(cfg),
	})
	if err != nil {
		return fmt.Errorf("resolving instance identity: %w", err)
	}

	transport, err := fleetclient.NewTransport(fleetclient.ProxyConfig{
		URL:               cfg.Proxy.URL,
		CABundleFile:      cfg.Proxy.CABundleFile,
		CABundleDir:       cfg.Proxy.CABundleDir,
		IgnoreSystemProxy: cfg.Proxy.IgnoreSystemProxy,
	})
	if err != nil {
		return fmt.Errorf("building outbound transport: %w", err)
	}
	fleetClient := bootstrap.FleetClient(cfg, transport)
	if fleetClient != nil {
		defer fleetClient.Close()
	}
	keyServer := bootstrap.KeyServer(cfg, transport)

	bus := eventbus.New(logger)

	reconciler := cluster.New(client, cfg.Cluster.Namespace, logger)
	runtime := control.NewClusterRuntime(reconciler)

	status := statusapi.NewSnapshotStore()

	ctrl, err := control.New(control.Config{
		RunConfig:   cfg,
		Registry:    registry,
		Repo:        repo,
		Bus:         bus,
		InstanceID:  instanceID,
		FleetID:     fleetID(cfg),
		Runtime:     runtime,
		FleetClient:      fleetClient,
		KeyServer:        keyServer,
		SigningMandatory: cfg.FleetControl != nil && cfg.FleetControl.SignatureValidation.Mandatory,
		Status:           status,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("building controller: %w", err)
	}

	gc := cluster.NewGarbageCollector(client, cfg.Cluster.Namespace, logger, 5*time.Minute)
	go gc.Run(ctx, ctrl.LiveAgents)

	var statusSrv *statusapi.Server
	if cfg.Server.Enabled {
		statusSrv = statusapi.NewServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), logger, status, ctrl)
		if err := statusSrv.Start(); err != nil {
			return fmt.Errorf("starting status server: %w", err)
		}
		defer statusSrv.Stop(context.Background())
	}

	logger.Info("agent-control-k8s starting", "instance_id", instanceID, "mode", "cluster", "namespace", cfg.Cluster.Namespace)
	return ctrl.Run(ctx)
}

// resolveKubeconfig tries in-cluster config first (the normal case
// when running as a pod), falling back to an explicit kubeconfig path
// or the default client-go discovery rules for local development.
func resolveKubeconfig(path string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		loadingRules.ExplicitPath = path
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

func fleetID(cfg runconfig.RunConfig) string {
	if cfg.FleetControl == nil {
		return ""
	}
	return cfg.FleetControl.Endpoint
}

func podName() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	name, _ := os.Hostname()
	return name
}
