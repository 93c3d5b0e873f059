package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mrirecon/pkg/config"
)

// NewRootCmd creates the root command for mrirecon.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mrirecon",
		Short: "Reconstruct MRI scans with a pre-trained neural network",
		Long: `mrirecon applies a pre-trained image-to-image network to a single grayscale
MRI scan. The scan is resized to the network's fixed 640x320 input, the output
is min-max normalized and can be previewed on the terminal or saved as an
8-bit image.

The model is an ONNX artifact loaded once at startup through ONNX Runtime.
Its location and the runtime library are set in the configuration file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "",
		fmt.Sprintf("Configuration file path (default %s)", config.DefaultPath()))
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewReconstructCmd())
	cmd.AddCommand(NewSessionCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
