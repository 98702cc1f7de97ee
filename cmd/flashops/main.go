// Command flashops connects to an ESP32 over serial to monitor its output,
// inspect its partition table, and erase or flash it.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:           "flashops",
		Args:          cobra.ExactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindGlobalFlags(cmd)

	cmd.AddCommand(portsCommand())
	cmd.AddCommand(monitorCommand())
	cmd.AddCommand(infoCommand())
	cmd.AddCommand(partitionsCommand())
	cmd.AddCommand(eraseCommand())
	cmd.AddCommand(flashCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "dump FILE",
		Short: "Replay a recorded monitor session",
		Args:  cobra.ExactArgs(1),
		RunE:  dump,
	})

	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
