package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/G-Research/indexab/internal/optimiser"
	"github.com/G-Research/indexab/internal/optimiser/report"
)

func analyseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyse",
		Short: "Prints the patterns found in a workload and the indexes each strategy would create, without running anything",
		RunE:  analyse,
	}
	addWorkloadFlags(cmd)
	return cmd
}

func analyse(cmd *cobra.Command, _ []string) error {
	w, err := loadWorkload(cmd)
	if err != nil {
		return err
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}
	patternSet, strategies, err := optimiser.Analyse(config, w.Queries, w.Table)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Analysis(patternSet, strategies))
	return nil
}
