package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ideamans/go-cadastro/internal/app"
)

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with a Google account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(rt *app.Runtime) error {
				session, err := rt.RequireSession()
				if err != nil {
					return err
				}
				user, err := session.Login(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", user.Name, user.Email)
				return nil
			})
		},
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored Google sign-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(rt *app.Runtime) error {
				session, err := rt.RequireSession()
				if err != nil {
					return err
				}
				if err := session.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(rt *app.Runtime) error {
				session, err := rt.RequireSession()
				if err != nil {
					return err
				}
				if !session.SignedIn() {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
					return nil
				}
				user, err := session.User(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", user.Name, user.Email)
				if user.Picture != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Picture: %s\n", user.Picture)
				}
				return nil
			})
		},
	}
}
