package cli

import (
	"fmt"

	"github.com/putto11262002/chatline/internal/devserver"
	"github.com/putto11262002/chatline/pkg/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs an in-memory development chat server.",
	Long: `Runs a chat server that keeps users, rooms and messages in memory and
speaks the same request and push protocol as the production backend.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := logger.New(logger.Options{Level: config.Log.Level, Format: config.Log.Format})
		if err != nil {
			return err
		}
		s, err := devserver.New(
			devserver.WithSecret(config.Serve.Secret),
			devserver.WithAllowedOrigins(config.Serve.AllowedOrigins...),
			devserver.WithLogger(l),
		)
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("%s:%d", config.Serve.Hostname, config.Serve.Port)
		return s.ListenAndServe(cmd.Context(), addr, config.Serve.TLS.Cert, config.Serve.TLS.Key)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.Int("port", 0, "port to listen on (default 4000)")
	flags.String("hostname", "", "hostname to listen on (default 127.0.0.1)")
	v.BindPFlag("serve.port", flags.Lookup("port"))
	v.BindPFlag("serve.hostname", flags.Lookup("hostname"))
}
