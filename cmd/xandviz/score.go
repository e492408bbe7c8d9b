package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hicksonhaziel/xandviz/www"
)

func newScoreCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score the cluster and print the leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.open(false)
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := rt.eng.Leaderboard().Get(cmd.Context(), limit, false)
			if err != nil {
				return err
			}
			rt.eng.Leaderboard().Wait()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tPUBKEY\tSCORE\tSTATUS\tVERSION")
			for _, e := range res.Entries {
				fmt.Fprintf(tw, "%d\t%s\t%.1f\t%s\t%s\n", e.Rank, e.Pubkey, e.Score, e.Status, e.Version)
			}
			fmt.Fprintf(tw, "\n%d of %d nodes\n", len(res.Entries), res.Total)
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to print, 0 for all")
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as web.collect_token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := www.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
