package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
)

func newValidateCmd(global *globalFlags) *cobra.Command {
	var requireStartURL bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfig(cmd, global.configPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
				return exitWith(1)
			}
			return exitWith(doValidate(cfg, warnings, requireStartURL, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().BoolVar(&requireStartURL, "require-start-url", false, "Fail when start_url is not configured")

	return cmd
}

// doValidate is the testable implementation of the validate command
func doValidate(cfg *config.AppConfig, loadWarnings []string, requireStartURL bool, stdout, stderr io.Writer) int {
	warnings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range append(loadWarnings, warnings...) {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	switch {
	case cfg.StartURL == "" && !requireStartURL:
		fmt.Fprintln(stdout, "NOTE: start_url is not set; pass --start-url to crawl")
	default:
		if err := cfg.ValidateStartURL(); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "OK: start_url %s\n", cfg.StartURL)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: render config: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "\nEffective configuration:\n%s\n", out)
	fmt.Fprintln(stdout, "Configuration valid")
	return 0
}
