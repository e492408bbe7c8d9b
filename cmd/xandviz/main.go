package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "xandviz",
		Short:         "pNode scoring and analytics service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "xandviz.yaml", "path to config file")

	cmd.AddCommand(
		newServeCmd(a),
		newCollectCmd(a),
		newScoreCmd(a),
		newHashTokenCmd(),
	)
	return cmd
}
