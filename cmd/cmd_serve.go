// cmd_serve.go - Startet den Worker und seinen HTTP-Transport
// Hauptfunktionen: newServeCmd, ServeHandler
package cmd

import (
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ollama/kvworker/envconfig"
	"github.com/ollama/kvworker/runner"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the worker",
		Args:    cobra.ExactArgs(0),
		RunE:    ServeHandler,
	}

	cmd.Flags().String("model", "", "Path to the model config.json or its directory")
	cmd.Flags().Bool("donate", false, "Donate the cache buffers during warmup")
	return cmd
}

// ServeHandler - Faehrt den Worker vollstaendig hoch und bedient Schritte
// bis SIGINT oder SIGTERM
func ServeHandler(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modelPath, _ := cmd.Flags().GetString("model")
	donate, _ := cmd.Flags().GetBool("donate")

	w, err := startWorker(ctx, modelPath, donate)
	if err != nil {
		return err
	}
	defer w.Close()

	capacity, _ := w.Capacity()
	if err := w.Allocate(ctx, capacity); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	return runner.Serve(ctx, ln, w)
}
