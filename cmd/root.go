package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facemark/internal/config"
	"github.com/andresmejia3/facemark/internal/log"
	"github.com/andresmejia3/facemark/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg config.Config
	// Logger is the diagnostic logger shared by subcommands
	Logger *logrus.Logger

	configPath string
	logLevel   string
	logFile    string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facemark",
	Short:   "Live 2D/3D facial landmark tracking",
	Version: Version, // This enables the --version flag
	// Subcommands report their own failures through utils.ShowError
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			utils.Die("Failed to load configuration", err, nil)
		}
		// Flags beat the file and the environment, but only when given explicitly
		if cmd.Flags().Changed("log-level") {
			Cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			Cfg.LogFile = logFile
		}

		Logger, err = log.New(Cfg.LogLevel, Cfg.LogFile)
		if err != nil {
			utils.Die("Failed to set up logging", err, nil)
		}
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if cmd, err := rootCmd.ExecuteContextC(ctx); err != nil {
		// Usage errors never reach a RunE, so print them here
		if !cmd.SilenceUsage {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated)")
}
