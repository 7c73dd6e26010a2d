package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/stuarteiffert/nanodet/pkg/checkpoint"
)

func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert OLD NEW",
		Short: "migrate a legacy checkpoint to the current bundle format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
			defer cancel()

			ckpt, err := checkpoint.LoadFile(ctx, args[0])
			if err != nil {
				return err
			}
			if !ckpt.IsLegacy() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already in the current format\n", args[0])
				return nil
			}
			converted := checkpoint.Convert(ckpt)

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()
			dgst, err := checkpoint.Write(ctx, converted, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "converted %s -> %s (%s)\n", args[0], args[1], dgst)
			return nil
		},
	}
	return cmd
}
