package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hicksonhaziel/xandviz/store"
)

func newCollectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run one collection and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.open(true)
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := rt.eng.Collector().RunOnce(cmd.Context(), store.SourceCLI)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
