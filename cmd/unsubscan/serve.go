package main

import (
	"github.com/spf13/cobra"

	"unsubscan/internal/gmail"
	"unsubscan/internal/scan"
	"unsubscan/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			scanner := scan.NewScanner(gmail.NewHTTPTransport(nil), a.cfg.Gmail.Options(), a.log)
			srv := server.New(scanner, st, a.cfg.Server.ScanTimeout, a.log)

			go func() {
				<-cmd.Context().Done()
				if err := srv.Shutdown(); err != nil {
					a.log.Error().Err(err).Msg("shutdown")
				}
			}()

			a.log.Info().Str("addr", addr).Msg("listening")
			return srv.Listen(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}
