package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/flashops"
)

type programFlags struct {
	monitor bool
	record  string
}

func (f *programFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.monitor, "monitor", "m", false, "Keep monitoring afterwards until interrupted")
	cmd.Flags().StringVar(&f.record, "record", "", "Record the session to FILE for replay with dump")
}

func eraseCommand() *cobra.Command {
	var flags programFlags

	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the whole flash",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return program(cmd, flags, func(ctx context.Context, e *env) error {
				return e.session.Erase(ctx)
			})
		},
	}
	flags.bind(cmd)

	return cmd
}

func flashCommand() *cobra.Command {
	var (
		flags  programFlags
		offset string
	)

	cmd := &cobra.Command{
		Use:   "flash IMAGE",
		Short: "Write an image to flash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}

			return program(cmd, flags, func(ctx context.Context, e *env) error {
				off := e.cfg.Flash.AppOffset
				if offset != "" {
					n, err := strconv.ParseUint(offset, 0, 32)
					if err != nil {
						return fmt.Errorf("invalid offset %q: %w", offset, err)
					}
					off = uint32(n)
				}

				err := e.session.Flash(ctx, image, off, printProgress)
				fmt.Fprintln(os.Stderr)
				return err
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&offset, "offset", "o", "", "Flash offset (default: flash.app_offset)")

	return cmd
}

// program connects, runs op, and then either disconnects or keeps
// monitoring until interrupted.
func program(cmd *cobra.Command, flags programFlags, op func(context.Context, *env) error) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	stop, err := e.follow(flags.record)
	if err != nil {
		return err
	}

	ctx := listenStop()
	if _, err := e.connect(ctx); err != nil {
		return errors.Join(err, stop())
	}

	if err := op(ctx, e); err != nil {
		if !flashops.IsResumeOnly(err) || flags.monitor {
			return errors.Join(err, e.session.Disconnect(), stop())
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if flags.monitor {
		return waitMonitor(ctx, e, stop)
	}

	return errors.Join(e.session.Disconnect(), stop())
}

func printProgress(written, total int) {
	pct := 0
	if total > 0 {
		pct = written * 100 / total
	}
	fmt.Fprintf(os.Stderr, "\rFlashing... %3d%% (%d/%d bytes)", pct, written, total)
}
