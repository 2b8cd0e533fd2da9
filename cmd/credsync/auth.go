package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ternarybob/credsync/internal/app"
	"github.com/ternarybob/credsync/internal/models"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the account backend",
	Long: `Signs in with email and password. The session is stored locally so later
commands and the server share it. The password is read from CREDSYNC_PASSWORD
or prompted for.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email := loginEmail
		if email == "" {
			fmt.Print("Email: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read email: %w", err)
			}
			email = strings.TrimSpace(line)
		}

		password := os.Getenv("CREDSYNC_PASSWORD")
		if password == "" {
			fmt.Print("Password: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = string(raw)
		}

		return withApp(func(a *app.App) error {
			reply := a.MessageHandler.Dispatch(cmd.Context(), message(cmd, "LOGIN", models.LoginCredentials{Email: email, Password: password}))
			if !reply.OK {
				return errors.New(reply.Error)
			}
			fmt.Printf("Signed in as %s\n", email)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out of the account backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			if err := a.BackendClient.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Signed out")
			return nil
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the backend session and active profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			session, err := a.BackendClient.Session(cmd.Context())
			if err != nil && !errors.Is(err, models.ErrNoSession) {
				return err
			}
			profile, err := a.Engine.Profile(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{"session": session, "profile": profile})
			}
			if session == nil {
				fmt.Printf("Not signed in (profile %s)\n", profile)
				return nil
			}
			fmt.Printf("Signed in as %s (profile %s)\n", session.User.Email, profile)
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
}
