// Command colonyd is the control-plane's entrypoint, grounded on the
// teacher's cmd/main/main.go + commands.go split: a root Cobra command with
// a persistent --config flag, and one subcommand per operator action.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"colony/internal/config"
	"colony/internal/engine"
	"colony/internal/store/sqlite"
	"colony/internal/telemetry"
	"colony/internal/workflow"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "colonyd",
	Short: "Colony orchestration control-plane",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML/YAML/JSON; defaults + COLONY_* env vars apply regardless)")
	rootCmd.AddCommand(serveCmd, manifestCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler tick loop and heartbeat monitor until interrupted",
	RunE:  runServe,
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Workflow manifest utilities",
}

func init() {
	manifestCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load every manifest in the configured workflow directory and report errors",
		RunE:  runManifestValidate,
	})
}

var statusCmd = &cobra.Command{
	Use:   "status <colony-id>",
	Short: "Print a colony's current crabs and missions",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func setup(ctx context.Context) (*engine.Engine, *config.Config, *slog.Logger, func(), error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	st, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	registry, loadErrs := workflow.Load(cfg.WorkflowDir, logger)
	for _, le := range loadErrs {
		logger.Warn("workflow manifest rejected at boot", "file", le.File, "error", le.Err)
	}

	meterProvider := sdkmetric.NewMeterProvider()
	tel, err := telemetry.New(meterProvider.Meter("colony"))
	if err != nil {
		st.Close()
		return nil, nil, nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	eng := engine.New(st, registry, tel, logger)
	cleanup := func() {
		_ = meterProvider.Shutdown(context.Background())
		st.Close()
	}
	return eng, cfg, logger, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, cfg, logger, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("colonyd starting", "database", cfg.DatabasePath, "workflow_dir", cfg.WorkflowDir)
	if err := eng.Run(ctx, "@every "+cfg.SchedulerTick.String(), cfg.HeartbeatTimeout, cfg.HeartbeatInterval); err != nil {
		return fmt.Errorf("engine run: %w", err)
	}
	logger.Info("colonyd shut down")
	return nil
}

func runManifestValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	registry, loadErrs := workflow.Load(cfg.WorkflowDir, logger)
	if len(loadErrs) > 0 {
		for _, le := range loadErrs {
			fmt.Fprintf(os.Stderr, "%s: %v\n", le.File, le.Err)
		}
		return fmt.Errorf("%d manifest(s) rejected in %s", len(loadErrs), cfg.WorkflowDir)
	}

	names := registry.Names()
	fmt.Printf("%d workflow(s) valid in %s\n", len(names), cfg.WorkflowDir)
	for _, name := range names {
		fmt.Println(" -", name)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	eng, _, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := eng.ReadStatusSnapshot(ctx, args[0])
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	fmt.Printf("colony %s (%s)\n", snap.Colony.Name, snap.Colony.ID)
	fmt.Printf("crabs: %d\n", len(snap.Crabs))
	for _, c := range snap.Crabs {
		fmt.Printf("  %-20s role=%-10s state=%s\n", c.Name, c.Role, c.State)
	}
	fmt.Printf("missions: %d\n", len(snap.Missions))
	for _, m := range snap.Missions {
		fmt.Printf("  %-36s status=%s\n", m.ID, m.Status)
	}
	return nil
}
