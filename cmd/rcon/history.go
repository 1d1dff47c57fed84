package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rcon/internal/cli"
	"github.com/energizer-project/rcon/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently run commands",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of records to show")
	historyCmd.Flags().String("peer", "", "only show commands sent to this peer")
	historyCmd.Flags().Duration("prune", 0, "delete records older than this before listing")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if !cfg.History.Enabled {
		return &cli.UsageError{Err: fmt.Errorf("command history is disabled")}
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	if prune, _ := cmd.Flags().GetDuration("prune"); prune > 0 {
		removed, err := store.Prune(ctx, prune)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "pruned %d record(s)\n", removed)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	peer, _ := cmd.Flags().GetString("peer")

	records, err := store.Recent(ctx, history.Query{Limit: limit, Peer: peer})
	if err != nil {
		return err
	}

	cli.RenderHistory(cmd.OutOrStdout(), records)
	return nil
}
