package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"mic-line-stt/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mic-line-stt [language]",
	Short: "Transcribe the microphone line by line, controlled from stdin",
	Long: `mic-line-stt listens to one input device and writes every recognized
utterance to stdout, one per line. It is controlled by writing commands to
stdin, one per line:

  start   begin listening
  stop    pause listening
  exit    shut down

Diagnostics, including the READY notice, are written to stderr.`,
	Args:          cobra.MatchAll(cobra.MaximumNArgs(1), languageArg),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(afero.NewOsFs(), configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Language = strings.TrimSpace(args[0])
		}
		return run(cmd.Context(), cfg)
	},
}

// languageArg rejects a blank language before anything is built.
func languageArg(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("language cannot be empty")
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
