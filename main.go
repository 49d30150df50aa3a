// ABOUTME: Entry point for the LAN audio relay
// ABOUTME: Cobra root command runs a relay session; subcommands scan and list devices
package main

import (
	"fmt"
	"os"

	"github.com/Resonate-Protocol/lanrelay/internal/config"
	"github.com/Resonate-Protocol/lanrelay/internal/version"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	backend string
)

var rootCmd = &cobra.Command{
	Use:   "lanrelay [peer]",
	Short: "Relay live audio between two machines on a LAN",
	Long: `lanrelay captures audio from an input device, streams it to a peer over
TCP or UDP as raw 32-bit float samples, and plays what the peer sends back.

The peer is an address (host or host:port), "auto" to discover one on the
local subnet, or omitted together with --listen to wait for a caller.`,
	Args:          cobra.MaximumNArgs(1),
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRelay,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "audio backend: malgo, portaudio, oto or null")

	registerRunFlags(rootCmd)

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or the defaults when no file was given, and
// applies the persistent flags. Validation is left to the caller so that
// command flags can be layered on first.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("backend") {
		cfg.Audio.Backend = backend
	}
	return cfg, nil
}
