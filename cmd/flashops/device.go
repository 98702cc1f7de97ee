package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/flashops"
)

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Identify the chip and show its partition table",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.connect(listenStop())
			if err != nil {
				return err
			}

			printWarnings(res)
			fmt.Printf("Connected at %d baud.\n", res.Baud)
			fmt.Println(renderChip(res.Chip))
			fmt.Println(renderPartitions(res.Partitions))
			return nil
		},
	}
}

func partitionsCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Show the partition table of the device, or of a dumped table",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading partition table: %w", err)
				}
				fmt.Println(renderPartitions(flashops.DecodePartitions(data)))
				return nil
			}

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.connect(listenStop())
			if err != nil {
				return err
			}

			printWarnings(res)
			fmt.Println(renderPartitions(res.Partitions))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Decode a partition table image instead of reading the device")

	return cmd
}

func printWarnings(res *flashops.ConnectResult) {
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}
}
