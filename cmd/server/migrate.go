package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the taxonomy tables and code indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		if err := rt.migrate(); err != nil {
			return err
		}
		rt.log.Info("migration complete", "driver", rt.cfg.DBDriver, "policy", rt.policy, "levels", len(rt.tax.Types()))
		return nil
	},
}
