package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailferry application
var rootCmd = &cobra.Command{
	Use:   "mailferry",
	Short: "Ferries mail from POP3 mailboxes into a Gmail account",
	Long: `mailferry is a daemon that periodically drains one or more POP3
mailboxes and re-delivers every message into a Gmail account through
the Gmail API. A source message is only deleted after Gmail has
acknowledged it with a message id, so a crash can duplicate a message
but never lose one.

It also serves a small HTTP status page with per-account import
counts and handles the Google OAuth authorization callback.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailferry version %s\n" .Version}}`)

	// If no subcommand is provided, run the sync daemon by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "sync")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mailferry version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mailferry version %s\n", version)
		},
	}
}

func init() {
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newVersionCmd())
}
