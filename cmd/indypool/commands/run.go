package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

//NewRunCmd returns the command that opens a pool and serves it over HTTP
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Open the pool and serve it",
		PreRunE: loadConfig,
		RunE:    runPool,
	}
	AddConfigFlags(cmd)
	return cmd
}

func runPool(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		_config.Pool.Logger().Error("Cannot initialize client: ", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.Run(ctx)
}
