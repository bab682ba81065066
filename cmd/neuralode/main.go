// Command neuralode trains and evaluates continuous-depth MNIST classifiers.
//
//	neuralode train --kind galerkin --solver rk4 --epochs 3 --fetch --save model.safetensors
//	neuralode eval model.safetensors
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/config"
)

var version = "v0.1.0-dev"

// Backend is the differentiable CPU backend every command runs on.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cobra.EnableCommandSorting = false

	root := &cobra.Command{
		Use:           "neuralode",
		Short:         "Neural ODE classifiers for MNIST",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(config.NewLogger())
		},
	}
	root.AddCommand(newTrainCmd(), newEvalCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "neuralode version %s\n", version)
		},
	}
}
