// agent-control is the host-mode entrypoint: it supervises sub-agents
// as local processes, using internal/supervisor/host. Adapted from
// the prior per-node supervisor's entrypoint, generalized from "one store kind,
// one VM supervisor" to "this process's full dependency graph, wired
// once at startup and handed to control.Controller."
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetcontrol/agent-control/internal/bootstrap"
	"github.com/fleetcontrol/agent-control/internal/configrepo"
	"github.com/fleetcontrol/agent-control/internal/control"
	"github.com/fleetcontrol/agent-control/internal/eventbus"
	"github.com/fleetcontrol/agent-control/internal/fleetclient"
	"github.com/fleetcontrol/agent-control/internal/identity"
	"github.com/fleetcontrol/agent-control/internal/runconfig"
	"github.com/fleetcontrol/agent-control/internal/statusapi"
	"github.com/fleetcontrol/agent-control/internal/supervisor/host"
	"github.com/fleetcontrol/agent-control/internal/version"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "agent-control",
		Short:   "Supervises newrelic sub-agents as host processes",
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

	localRoot, err := resolveLocalRoot(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("resolving local config root: %w", err)
	}

	repo, err := buildRepository(ctx, cfg, localRoot)
	if err != nil {
		return fmt.Errorf("building config repository: %w", err)
	}

	identityBackend := configrepo.NewIdentityBackend(filepath.Join(cfg.Paths.RemoteDir, "identity.json"))
	hostID, machineID := hostIdentity()
	instanceID, err := identity.Resolve(identityBackend, identity.Tuple{HostID: hostID, MachineID: machineID, FleetID: fleetID(cfg)})
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

	sup := host.New(cfg.Paths.RemoteDir, logger)
	runtime := control.NewHostRuntime(sup, cfg.Paths.RemoteDir, logger)

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

	var statusSrv *statusapi.Server
	if cfg.Server.Enabled {
		statusSrv = statusapi.NewServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), logger, status, ctrl)
		if err := statusSrv.Start(); err != nil {
			return fmt.Errorf("starting status server: %w", err)
		}
		defer statusSrv.Stop(context.Background())
	}

	logger.Info("agent-control starting", "instance_id", instanceID, "mode", "host")
	return ctrl.Run(ctx)
}

// resolveLocalRoot synchronizes cfg.Store (when configured) and
// returns the directory FileBackend should read agent configs from.
func resolveLocalRoot(ctx context.Context, cfg runconfig.RunConfig, logger *slog.Logger) (string, error) {
	switch cfg.Store.Type {
	case "git":
		sync := configrepo.NewGitSync(cfg.Store.URL, cfg.Store.Branch, filepath.Join(cfg.Paths.LocalDir, "git"), nil)
		if err := sync.Sync(ctx); err != nil {
			return "", fmt.Errorf("syncing git store: %w", err)
		}
		return sync.LocalRoot(), nil
	default:
		return cfg.Paths.LocalDir, nil
	}
}

// buildRepository composes the local half (always a FileBackend
// rooted at localRoot) with the remote half, S3-backed when
// cfg.Store.Type is "s3", otherwise the same FileBackend.
func buildRepository(ctx context.Context, cfg runconfig.RunConfig, localRoot string) (configrepo.Repository, error) {
	fileBackend, err := configrepo.NewFileBackend(localRoot, cfg.Paths.RemoteDir)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Type != "s3" {
		return fileBackend, nil
	}

	s3Backend, err := configrepo.NewS3Backend(ctx, configrepo.S3BackendConfig{
		Bucket:      cfg.Store.S3Bucket,
		Prefix:      cfg.Store.S3Prefix,
		Region:      cfg.Store.S3Region,
		EndpointURL: cfg.Store.S3Endpoint,
	})
	if err != nil {
		return nil, err
	}
	return configrepo.CompositeBackend{Local: fileBackend, Remote: s3Backend}, nil
}

func fleetID(cfg runconfig.RunConfig) string {
	if cfg.FleetControl == nil {
		return ""
	}
	return cfg.FleetControl.Endpoint
}

func hostIdentity() (hostID, machineID string) {
	hostID, _ = os.Hostname()
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		machineID = string(data)
	}
	return hostID, machineID
}
