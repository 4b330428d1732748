package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spacemouse-bridge/bridge/internal/browser"
	"github.com/spacemouse-bridge/bridge/internal/config"
	"github.com/spacemouse-bridge/bridge/internal/device"
	"github.com/spacemouse-bridge/bridge/internal/eventbus"
	"github.com/spacemouse-bridge/bridge/internal/keyboard"
	"github.com/spacemouse-bridge/bridge/internal/logging"
	"github.com/spacemouse-bridge/bridge/internal/server"
)

var version = "1.4.8.21486"

var cfgFile string

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "spacemouse-bridge",
	Short: "Local bridge between a SpaceMouse device and a browser CAD application",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge",
	Run: func(cmd *cobra.Command, args []string) {
		runBridge()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spacemouse-bridge v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the persisted configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current configuration as JSON",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(cfg)
	},
}

var (
	setSensitivity float64
	setDeadzone    int
	setGamma       float64
	setSpinAxis    string
)

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update and persist tuning values",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		if cmd.Flags().Changed("sensitivity") {
			cfg.Sensitivity = setSensitivity
		}
		if cmd.Flags().Changed("deadzone") {
			cfg.Deadzone = setDeadzone
		}
		if cmd.Flags().Changed("gamma") {
			cfg.Gamma = setGamma
		}
		if cmd.Flags().Changed("spin-axis") {
			cfg.SpinAxis = setSpinAxis
		}
		if err := config.SaveTo(cfg, cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/spacemouse-bridge/config.json)")

	configSetCmd.Flags().Float64Var(&setSensitivity, "sensitivity", 1.0, "motion sensitivity multiplier")
	configSetCmd.Flags().IntVar(&setDeadzone, "deadzone", 2, "per-axis deadzone")
	configSetCmd.Flags().Float64Var(&setGamma, "gamma", 1.0, "response curve gamma")
	configSetCmd.Flags().StringVar(&setSpinAxis, "spin-axis", "z", "axis used by the spin_90 button action (x, y, z)")

	configCmd.AddCommand(configGetCmd, configSetCmd)
	rootCmd.AddCommand(runCmd, versionCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging wires up the configured log output and returns the rotating
// file writer, if any, so the caller can reopen it on SIGHUP.
func initLogging(cfg *config.Config) *logging.RotatingWriter {
	var output io.Writer = os.Stdout
	var rw *logging.RotatingWriter
	if cfg.LogFile != "" {
		var err error
		rw, err = logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			rw = nil
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
	return rw
}

// runBridge wires the Device Reader, Event Bus, and Server Host together
// and blocks until a shutdown signal arrives.
func runBridge() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logRotator := initLogging(cfg)

	log.Info("starting bridge", "version", version, "listenPort", cfg.ListenPort)

	cfgStore := config.NewStore(cfg, cfgFile)
	bus := eventbus.New()

	reader := device.New(device.DefaultSocketPath, bus)
	go reader.Run()

	srv := server.New(cfgStore, bus, keyboard.New(), browser.New())
	go srv.DispatchEvents()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down bridge")
		cancel()
	}()

	if logRotator != nil {
		hupCh := make(chan os.Signal, 1)
		signal.Notify(hupCh, syscall.SIGHUP)
		go func() {
			for range hupCh {
				if err := logRotator.Reopen(); err != nil {
					log.Error("reopen log file failed", "error", err)
					continue
				}
				log.Info("reopened log file on SIGHUP")
			}
		}()
	}

	// Process shutdown abandons the Device Reader thread without a
	// graceful join and drains the Event Bus by closing it (spec.md §5).
	if err := srv.ListenAndServeTLS(ctx, cfg.ListenPort, config.TLSDir()); err != nil {
		log.Error("fatal startup error", "error", err)
		bus.Close()
		os.Exit(1)
	}
	bus.Close()
	log.Info("bridge stopped")
}
