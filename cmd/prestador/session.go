package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/prestador-desk/internal/backend"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/spf13/cobra"
)

func loginCmd(configPath *string) *cobra.Command {
	var login, password, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with login and password, or with a service code",
		Long:  "Sign in and store the session for the desk. The password may also be given in PRESTADOR_PASSWORD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if password == "" {
				password = os.Getenv("PRESTADOR_PASSWORD")
			}

			var result *backend.LoginResult
			if strings.TrimSpace(code) != "" {
				result, err = a.backend.LoginWithCode(ctx, code)
			} else {
				result, err = a.backend.Login(ctx, domain.Credentials{Login: login, Password: password})
			}
			if err != nil {
				return a.userError(ctx, err, locale.LoginFailed)
			}

			if err := a.auth.SignIn(ctx, result.Identity, result.Token); err != nil {
				return a.userError(ctx, err, locale.LoginFailed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", displayName(result.Identity))
			return nil
		},
	}

	cmd.Flags().StringVar(&login, "login", "", "provider login")
	cmd.Flags().StringVar(&password, "password", "", "provider password")
	cmd.Flags().StringVar(&code, "code", "", "one-off service code instead of login and password")
	return cmd
}

func logoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.auth.SignOut(cmd.Context()); err != nil {
				return a.userError(cmd.Context(), err, locale.ServerError)
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.catalog.Lookup(locale.SignedOut))
			return nil
		},
	}
}

func whoamiCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.requireSession(); err != nil {
				return err
			}
			session := a.auth.Session()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:    %s\n", session.Identity.ID())
			fmt.Fprintf(out, "name:  %s\n", displayName(session.Identity))
			if email := session.Identity.Email(); email != "" {
				fmt.Fprintf(out, "email: %s\n", email)
			}
			fmt.Fprintf(out, "role:  %s\n", session.Identity.Role())
			return nil
		},
	}
}

func displayName(id domain.Identity) string {
	if label := id.SenderLabel(); label != "" {
		return label
	}
	return id.ID()
}
