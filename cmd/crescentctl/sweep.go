package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/crescent-api/internal/repository"
	"github.com/noah-isme/crescent-api/internal/service"
)

func newSweepCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue pending links as expired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sweeper := service.NewExpirySweeper(
				repository.NewScholarLinkRepository(e.db),
				repository.NewUserRepository(e.db),
				nil, nil, e.logger, 0,
			)
			n, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d pending link(s)\n", n)
			return nil
		},
	}
}
