package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/connector-chat/server/internal/server"
)

func newServeCmd(rt runtime) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat server and web UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := rt.server()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			chat, closeChat, err := rt.chat(ctx, nil)
			if err != nil {
				return err
			}
			defer closeChat()

			issuer, err := rt.widget()
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, chat, issuer)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SERVER_ADDR)")
	return cmd
}
