package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linecue/linecue/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pre-render API over HTTP",
	Long: paragraph(fmt.Sprintf("\n%s pre-render sessions over HTTP. Requests are scoped to the owner named in the %s header.",
		keyword("Serve"), server.OwnerHeader)),
	Example: paragraph("linecue serve\nlinecue serve --addr :8080 --provider http"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		client, err := newSynthClient()
		if err != nil {
			return err
		}

		addr := viper.GetString("serve.addr")
		srv := server.New(client, store, schedulerConfig(), log.Default())
		fmt.Fprintln(cmd.OutOrStdout(), paragraph(fmt.Sprintf("Listening on %s", keyword(addr))))
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "address to listen on (default serve.addr)")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}
