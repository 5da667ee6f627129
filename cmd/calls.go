package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/store/sqlite"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var flagCallsDB string

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List calls on a signaling server's database",
	Long: `List the calls currently stored by a signaling server, with their age,
whether they have an offer and an answer, and how many candidates each side published.

Examples:
  warpcall calls
  warpcall calls --db /var/lib/warpcall/calls.db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCalls(cmd.Context())
	},
}

func listCalls(ctx context.Context) error {
	path := flagCallsDB
	if path == "" {
		path = os.Getenv("DB_PATH")
	}
	if path == "" {
		path = config.DefaultDBPath
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open call database: %w", err)
	}

	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	calls, err := db.ListCalls(ctx)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		ui.PrintInfo("No active calls")
		return nil
	}
	ui.RenderCallList(os.Stdout, calls, time.Now())
	return nil
}

func init() {
	rootCmd.AddCommand(callsCmd)
	callsCmd.Flags().StringVar(&flagCallsDB, "db", "", "SQLite database path (default $DB_PATH or warpcall.db)")
}
