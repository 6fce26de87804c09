package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/api"
	"github.com/cuemby/hangar/pkg/client"
	"github.com/cuemby/hangar/pkg/config"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/manager"
	"github.com/cuemby/hangar/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", describe(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hangar",
	Short: "Hangar - Proxmox inventory and credential vault",
	Long: `Hangar keeps an encrypted vault of infrastructure credentials and a
local inventory of the VMs and containers running on your Proxmox nodes.

Run "hangar serve" to start the server; the other commands talk to it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("data-dir") {
			loaded.DataDir, _ = cmd.Flags().GetString("data-dir")
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-json") {
			loaded.Log.JSON, _ = cmd.Flags().GetBool("log-json")
		}
		if cmd.Flags().Changed("server") {
			loaded.APIAddr, _ = cmd.Flags().GetString("server")
		}

		level, err := log.ParseLevel(loaded.Log.Level)
		if err != nil {
			return err
		}
		log.Init(log.Config{
			Level:      level,
			JSONOutput: loaded.Log.JSON,
			Output:     os.Stderr,
		})
		cfg = loaded
		return nil
	},
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hangar version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides "+config.EnvDataDir+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().StringP("server", "s", "", "Hangar server address (overrides "+config.EnvAPIAddr+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(applyCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Hangar server",
	Long: `Run the Hangar server: open the local store, unlock the vault with
HANGAR_MASTER_PASSPHRASE, start the background inventory sync and serve the
HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		readOnly, _ := cmd.Flags().GetBool("read-only")

		mgrCfg, err := cfg.ManagerConfig()
		if err != nil {
			return err
		}

		fmt.Println("Starting Hangar...")
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		fmt.Printf("  API Address: %s\n", cfg.APIAddr)
		fmt.Printf("  Sync Interval: %s\n", cfg.Reconciler.Interval)
		fmt.Println()

		metrics.SetVersion(Version)

		mgr, err := manager.NewManager(mgrCfg)
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		mgr.Start()
		fmt.Println("✓ Manager started")

		apiServer := api.NewServer(mgr, api.Options{
			ReadOnly: readOnly,
			Version:  Version,
		})
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(cfg.APIAddr); err != nil {
				errCh <- err
			}
		}()
		fmt.Println("✓ API server started")

		fmt.Println()
		fmt.Println("Hangar is running. Press Ctrl+C to stop.")

		// Wait for interrupt signal or API server error
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case runErr = <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", runErr)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			log.Logger.Warn().Err(err).Msg("API server did not shut down cleanly")
		}
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}

		fmt.Println("✓ Shutdown complete")
		return runErr
	},
}

func init() {
	serveCmd.Flags().Bool("read-only", false, "Reject every request that changes state")
}

// newClient connects to the configured server
func newClient() (*client.Client, error) {
	return client.NewClient(cfg.APIAddr)
}

// describe adds a hint to the errors users hit most
func describe(err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w (not found)", err)
	case errdefs.IsFailedPrecondition(err):
		return fmt.Errorf("%w (check %s and the configuration file)", err, config.EnvMasterPassphrase)
	case errdefs.IsUnauthorized(err):
		return fmt.Errorf("%w (the node rejected the stored credentials)", err)
	case errdefs.IsPermissionDenied(err):
		return fmt.Errorf("%w (the server is read-only)", err)
	}
	var apiErr *client.APIError
	if cfg != nil && !errors.As(err, &apiErr) && errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w (is \"hangar serve\" running at %s?)", err, cfg.APIAddr)
	}
	return err
}
