package cmd

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/optimiser"
)

func healthcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Checks that the configured database service is reachable",
		RunE:  healthcheck,
	}
	cmd.Flags().Duration(
		"timeout",
		10*time.Second,
		"Duration after which the check fails if the database hasn't answered")
	return cmd
}

func healthcheck(cmd *cobra.Command, _ []string) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return errors.WithStack(err)
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := indexabcontext.WithTimeout(indexabcontext.Background(), timeout)
	defer cancel()
	service, err := optimiser.NewService(ctx, config)
	if err != nil {
		return err
	}
	defer service.Close()
	if err := service.Ping(ctx); err != nil {
		return errors.WithMessage(err, "database is unreachable")
	}
	log.Info("Database is reachable")
	return nil
}
