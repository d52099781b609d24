package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"

	"mic-line-stt/microphone"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize portaudio: %w", err)
		}
		defer portaudio.Terminate()

		devices, err := microphone.InputDevices()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCHANNELS\tSAMPLE RATE\tHOST API")
		for _, d := range devices {
			hostAPI := ""
			if d.HostApi != nil {
				hostAPI = d.HostApi.Name
			}
			fmt.Fprintf(w, "%s\t%d\t%.0f\t%s\n", d.Name, d.MaxInputChannels, d.DefaultSampleRate, hostAPI)
		}
		return w.Flush()
	},
}
