package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-Research/indexab/internal/common"
	commonconfig "github.com/G-Research/indexab/internal/common/config"
	"github.com/G-Research/indexab/internal/common/logging"
	"github.com/G-Research/indexab/internal/optimiser/configuration"
	"github.com/G-Research/indexab/internal/optimiser/workload"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/indexab"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "indexab",
		SilenceUsage: true,
		Short:        "Compares two index strategies for a query workload against isolated copies of a database",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	cmd.AddCommand(
		runCmd(),
		analyseCmd(),
		healthcheckCmd(),
	)

	return cmd
}

func loadConfig() (configuration.OptimiserConfig, error) {
	var config configuration.OptimiserConfig
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs)

	err := config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	err = logging.Configure(logging.Config{Level: config.LogLevel, Format: config.LogFormat})
	return config, err
}

func addWorkloadFlags(cmd *cobra.Command) {
	cmd.Flags().String("workload", "", "Path to the workload; a YAML file with table and queries, or a file of SQL statements")
	cmd.Flags().String("table", "", "Table the workload queries; overrides the table given in a YAML workload")
	_ = cmd.MarkFlagRequired("workload")
}

// loadWorkload reads the workload named by the command's flags.
func loadWorkload(cmd *cobra.Command) (*workload.Workload, error) {
	path, err := cmd.Flags().GetString("workload")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	table, err := cmd.Flags().GetString("table")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	w, err := workload.Load(path)
	if err != nil {
		return nil, err
	}
	if table != "" {
		w.Table = table
	}
	if w.Table == "" {
		return nil, errors.Errorf("no table given; use --table or set table in %s", path)
	}
	return w, nil
}
