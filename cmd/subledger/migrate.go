package main

import (
	"github.com/spf13/cobra"

	"github.com/xraph/subledger"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed the plan catalog, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx, opts.cfg)
			if err != nil {
				return err
			}
			l := subledger.New(st, subledger.WithLogger(opts.logger))
			if err := l.Start(ctx); err != nil {
				_ = l.Stop()
				return err
			}

			plans, err := l.ListPlans(ctx)
			if err != nil {
				_ = l.Stop()
				return err
			}
			opts.logger.Info("migration complete",
				"driver", opts.cfg.DatabaseDriver,
				"plans", len(plans),
			)
			return l.Stop()
		},
	}
}
