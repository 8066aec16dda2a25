// Package cmd assembles the digitlab command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/digitlab/digitlab/cmd/config"
	"github.com/digitlab/digitlab/cmd/ping"
	"github.com/digitlab/digitlab/cmd/serve"
	"github.com/digitlab/digitlab/cmd/version"
	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/conf"
	"github.com/digitlab/digitlab/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled in by
// the persistent pre-run hook once flags are parsed, so subcommands must only
// read it from their Run functions.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}

	rootCmd := &cobra.Command{
		Use:           "digitlab",
		Short:         "Handwritten digit collection and prediction server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	versionCmd := version.Command(build)
	rootCmd.AddCommand(
		serve.Command(settings, build),
		ping.Command(settings, build),
		configcmd.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs neither settings nor logging
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize loads settings and installs the central logger.
func initialize(settings *conf.Settings) error {
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	*settings = *loaded

	central, err := logger.NewCentralLogger(settings.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}

// setupFlags defines flags that are global to the command line interface and
// binds them to their viper keys.
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default searches ., ~/.config/digitlab, /etc/digitlab)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("broker", "", "Context broker base URL")
	flags.String("host", "", "Address to listen on")
	flags.StringP("port", "p", "", "Port to listen on")
	flags.String("images", "", "Directory for collected training images")
	flags.String("predictions", "", "Directory for images submitted for prediction")

	bindings := map[string]string{
		conf.ConfigFileKey:       "config",
		"debug":                  "debug",
		"broker.url":             "broker",
		"server.host":            "host",
		"server.port":            "port",
		"storage.imagesdir":      "images",
		"storage.predictionsdir": "predictions",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}

	return nil
}
