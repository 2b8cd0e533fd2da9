package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ternarybob/credsync/internal/app"
	"github.com/ternarybob/credsync/internal/handlers"
	"github.com/ternarybob/credsync/internal/models"
)

var (
	syncCreate bool
	syncToken  string
)

var syncCmd = &cobra.Command{
	Use:   "sync <platform>",
	Short: "Push the captured credential of a platform to its linked auth method",
	Long: `Pushes the credential captured for <platform> (or --token) to the linked auth
method. With --create a new auth method is created and linked when none is linked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			platform := models.Platform(args[0])
			var result models.SyncResult
			if syncToken != "" {
				result = a.Engine.Sync(cmd.Context(), models.SyncRequest{Platform: platform, Token: syncToken, AllowCreate: syncCreate})
			} else {
				result = a.Engine.SyncCaptured(cmd.Context(), platform, syncCreate)
			}
			if err := printSyncResult(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("sync failed: %s", result.Outcome)
			}
			return nil
		})
	},
}

var linkCmd = &cobra.Command{
	Use:   "link <platform> <auth-method-id>",
	Short: "Link a platform to an existing auth method",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid auth method id %q", args[1])
		}
		return withApp(func(a *app.App) error {
			if err := a.Engine.Link(cmd.Context(), models.Platform(args[0]), id); err != nil {
				return err
			}
			state, err := a.Engine.Links(cmd.Context())
			if err != nil {
				return err
			}
			return printLinks(state)
		})
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <platform>",
	Short: "Remove the link of a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			if err := a.Engine.Unlink(cmd.Context(), models.Platform(args[0])); err != nil {
				return err
			}
			state, err := a.Engine.Links(cmd.Context())
			if err != nil {
				return err
			}
			return printLinks(state)
		})
	},
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Show the link state of the active profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			state, err := a.Engine.Links(cmd.Context())
			if err != nil {
				return err
			}
			return printLinks(state)
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Drop links to auth methods that no longer exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			report, err := a.Engine.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}
			fmt.Printf("Profile %s: %d removed, %d adopted\n", report.Profile, len(report.Removed), len(report.Adopted))
			return printLinks(report.Links)
		})
	},
}

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List the backend auth methods",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			methods, err := a.Engine.AuthMethods(cmd.Context(), true)
			if err != nil {
				return err
			}
			state, err := a.Engine.Links(cmd.Context())
			if err != nil {
				return err
			}
			return printMethods(methods, state)
		})
	},
}

// message builds a contract message for commands that go through the dispatcher
func message(cmd *cobra.Command, msgType string, payload interface{}) handlers.Message {
	raw, _ := json.Marshal(payload)
	return handlers.Message{ID: cmd.Name(), Type: msgType, Payload: raw}
}

func init() {
	syncCmd.Flags().BoolVar(&syncCreate, "create", false, "Create and link an auth method when none is linked")
	syncCmd.Flags().StringVar(&syncToken, "token", "", "Push this value instead of the captured credential")
}
