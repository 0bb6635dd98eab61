package main

import (
	"andstatus/internal/database"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts of the local database",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type statsResult struct {
	Account string `json:"account"`
	database.Stats
	Accounts int `json:"accounts"`
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openAppFor(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), statsResult{
		Account:  a.account.Name,
		Stats:    *st,
		Accounts: a.state.AccountStore().Count(),
	})
}
