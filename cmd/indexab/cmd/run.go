package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/G-Research/indexab/internal/common/app"
	"github.com/G-Research/indexab/internal/optimiser"
	"github.com/G-Research/indexab/internal/optimiser/model"
	"github.com/G-Research/indexab/internal/optimiser/report"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs an optimisation job for a workload and prints the recommendation",
		RunE:  runJob,
	}
	addWorkloadFlags(cmd)
	cmd.Flags().String("output", report.FormatText, "Report format, text or json")
	return cmd
}

func runJob(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return errors.WithStack(err)
	}
	w, err := loadWorkload(cmd)
	if err != nil {
		return err
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := app.CreateContextWithShutdown()
	optimiserApp, err := optimiser.NewApp(ctx, config)
	if err != nil {
		return err
	}
	defer optimiserApp.Close()

	job, err := optimiserApp.Run(ctx, w.Queries, w.Table)
	if err != nil {
		return err
	}
	if err := report.Write(os.Stdout, job, output); err != nil {
		return err
	}
	if job.Status == model.JobStatusFailed {
		return errors.Errorf("job %s failed: %s", job.Id, job.Error.Message)
	}
	return nil
}
