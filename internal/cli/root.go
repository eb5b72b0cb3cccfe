package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/putto11262002/chatline/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
	config  *app.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatline",
	Short: "A terminal client for realtime chat rooms.",
	Long: `chatline signs in to a chat server, lists its rooms and lets you chat
in one room at a time. Use "chatline serve" to run a local development server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := app.LoadConfig(v, cfgFile)
		if err != nil {
			return err
		}
		config = c
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./chatline.yaml or $XDG_CONFIG_HOME/chatline/chatline.yaml)")
	flags.String("server", "", "base URL of the chat server API")
	flags.String("ws-url", "", "push channel URL (derived from --server when empty)")
	flags.String("credential-store", "", "where the credential is kept: memory | sqlite")
	flags.String("log-level", "", "debug | info | warn | error")

	v.BindPFlag("server.url", flags.Lookup("server"))
	v.BindPFlag("server.ws_url", flags.Lookup("ws-url"))
	v.BindPFlag("credential.store", flags.Lookup("credential-store"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, roomsCmd, createRoomCmd, chatCmd, serveCmd)
}

// newApp builds the application from the loaded configuration.
func newApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, config)
}

// startedApp builds the application and starts its session.
func startedApp(ctx context.Context) (*app.App, error) {
	a, err := newApp(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
