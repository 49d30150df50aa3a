// ABOUTME: The devices command: list audio devices of a backend
// ABOUTME: Prints inputs and outputs with their default configuration
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/Resonate-Protocol/lanrelay/pkg/audio/device"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func runDevices(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	host, err := device.NewHost(cfg.Audio.Backend, zerolog.Nop())
	if err != nil {
		return err
	}
	defer host.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "BACKEND %s\n", host.Name())
	fmt.Fprintln(w, "DIRECTION\tDEFAULT\tCHANNELS\tNAME")
	for _, dir := range []audio.Direction{audio.Input, audio.Output} {
		devices, err := host.Devices(dir)
		if err != nil {
			return fmt.Errorf("listing %s devices: %w", dir, err)
		}
		for _, d := range devices {
			def := ""
			if d.Default {
				def = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", dir, def, d.MaxChannels, d.Name)
		}
	}
	return w.Flush()
}
