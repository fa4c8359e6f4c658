package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const defaultConfigPath = "config.yaml"

// exitCode carries a non-zero process exit status out of a command
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "campus-crawler",
		Short: "Polite breadth-first crawler for school websites",
		Long: `campus-crawler walks a school website breadth-first, saving page text and
same-site PDF and spreadsheet documents under a data root, and stops early
when the host runs short of CPU, memory or disk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath,
		"Path to YAML config file (optional when left at the default)")
	root.PersistentFlags().StringVar(&flags.logLevel, "loglevel", "info",
		"Log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newCrawlCmd(flags),
		newHealthCmd(flags),
		newServeCmd(flags),
		newValidateCmd(flags),
		newWatchCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "campus-crawler version %s\n", version)
			},
		},
	)

	return root
}

// loadConfig reads .env, the YAML file and CRAWL_* variables, in that order of precedence (lowest first).
// The default config path may be absent; an explicitly chosen one may not.
func loadConfig(cmd *cobra.Command, path string) (*config.AppConfig, []string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, err
	}
	explicit := cmd.Flags().Changed("config")
	cfg, err := config.Load(path, !explicit)
	if err != nil {
		return nil, nil, err
	}
	warnings := cfg.ApplyEnv()
	return cfg, warnings, nil
}

// exitWith converts a status into the command's error value
func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return exitCode(code)
}
