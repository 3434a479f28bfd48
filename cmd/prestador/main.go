// Prestador desk: a local desk daemon and CLI for service providers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "prestador",
		Short:         "Provider desk for the service marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is normal outside development.
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "optional config file (yaml, json or toml)")

	cmd.AddCommand(
		serveCmd(&configPath),
		loginCmd(&configPath),
		logoutCmd(&configPath),
		whoamiCmd(&configPath),
		servicesCmd(&configPath),
		chatsCmd(&configPath),
		chatCmd(&configPath),
	)
	return cmd
}
