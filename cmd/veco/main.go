package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile string
	server  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "veco",
		Short:         "Serve and query Veco token classification models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env", "", "path to load env from")
	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8001", "address of a running veco server")

	root.AddCommand(
		newServeCmd(opts),
		newModelsCmd(opts),
		newRegisterCmd(opts),
		newLabelsCmd(opts),
		newPredictCmd(opts),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatalf("error: %v", err)
	}
}
