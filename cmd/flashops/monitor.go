package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/flashops"
)

func portsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			ports, err := flashops.ListPorts()
			if err != nil {
				return err
			}
			fmt.Println(renderPorts(ports))
			return nil
		},
	}
}

func monitorCommand() *cobra.Command {
	var record string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Connect and stream device output; stdin lines are sent to the device",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return monitor(cmd, record)
		},
	}

	cmd.Flags().StringVar(&record, "record", "", "Record the session to FILE for replay with dump")

	return cmd
}

func monitor(cmd *cobra.Command, record string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	stop, err := e.follow(record)
	if err != nil {
		return err
	}

	ctx := listenStop()
	if _, err := e.connect(ctx); err != nil {
		return errors.Join(err, stop())
	}

	return waitMonitor(ctx, e, stop)
}

// waitMonitor forwards stdin to the device until interrupted, then
// disconnects and stops following the log stream.
func waitMonitor(ctx context.Context, e *env, stop func() error) error {
	go forwardInput(ctx, e, os.Stdin)

	<-ctx.Done()

	derr := e.session.Disconnect()
	return errors.Join(derr, stop())
}

func forwardInput(ctx context.Context, e *env, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}

		if err := e.session.Write([]byte(sc.Text() + "\r\n")); err != nil {
			e.session.Logs().Add(flashops.CategoryError, fmt.Sprintf("Write failed: %v", err))
		}
	}
}
