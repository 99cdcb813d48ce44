// Package main provides the entry point for the chatvox CLI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"

	"github.com/chatvox/chatvox/internal/app"
	"github.com/chatvox/chatvox/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	dataDir    string
	logLevel   string
	armRestart bool

	rootCmd = &cobra.Command{
		Use:   "chatvox [DATA_DIR]",
		Short: "Speak live chat messages aloud",
		Long: "\nChatvox connects to a local chat event stream, decides which" +
			" messages to speak and with which voice, synthesizes them through" +
			" external TTS endpoints, and plays the audio strictly in order.",
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.MaximumNArgs(1),
		RunE:          execute,
	}
)

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigFile())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.DataDir = args[0]
	}
	if cmd.Flags().Changed("data") {
		cfg.DataDir = dataDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	if armRestart {
		a.ArmEmergency(true)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// resolveConfigFile picks the explicit --config value or the first
// existing default location.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	for _, dir := range configDirs() {
		for _, name := range []string{"chatvox.yml", "chatvox.yaml", "config.yml", "config.yaml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func configDirs() []string {
	var dirs []string
	if c := os.Getenv("CHATVOX_CONFIG_HOME"); c != "" {
		dirs = append(dirs, c)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append(dirs, filepath.Join(c, "chatvox"))
	}
	scope := gap.NewScope(gap.User, "chatvox")
	if scoped, err := scope.ConfigDirs(); err == nil {
		dirs = append(dirs, scoped...)
	}
	return dirs
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: first chatvox.yml found in config dirs)")
	rootCmd.Flags().StringVarP(&dataDir, "data", "d", "data", "directory holding the mutable settings stores")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&armRestart, "arm-restart", false, "allow moderators to clear the playback queue with !restart")

	rootCmd.AddCommand(configCmd)
}
