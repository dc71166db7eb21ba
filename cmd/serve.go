package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	asm, err := a.assembler(ctx)
	if err != nil {
		return fmt.Errorf("wiring chat pipeline: %w", err)
	}

	server := api.NewServer(
		api.NewHealthHandler(a.pool, a.logger),
		api.NewSourceHandler(a.indexStore, a.indexer, ctx, a.logger),
		api.NewConversationHandler(a.convStore, a.logger),
		api.NewChatHandler(asm, a.logger),
		a.logger,
	)

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.ServerAddr
	}
	return server.Run(ctx, addr)
}
