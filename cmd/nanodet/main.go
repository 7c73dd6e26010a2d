package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stuarteiffert/nanodet/pkg/version"
)

const ErrExitCode = 1

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(ErrExitCode)
	}
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "nanodet",
		Short:        "nanodet training toolchain",
		Version:      version.Get().String(),
		SilenceUsage: true,
	}
	cmd.AddCommand(
		NewTrainCmd(),
		NewConvertCmd(),
	)
	return cmd
}
