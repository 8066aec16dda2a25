// Package config implements the config command, which prints the effective
// settings after defaults, config file, environment and flags are merged.
package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/digitlab/digitlab/internal/conf"
)

const redacted = "[REDACTED]"

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Print(cmd.OutOrStdout(), settings)
		},
	}

	return cmd
}

// Print writes settings to out as YAML with secrets masked.
func Print(out io.Writer, settings *conf.Settings) error {
	masked := *settings
	if masked.Telemetry.SentryDSN != "" {
		masked.Telemetry.SentryDSN = redacted
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}
	_, err = out.Write(data)
	return err
}
