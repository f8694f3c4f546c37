package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bridgeinspect/internal/records"
	"bridgeinspect/internal/settings"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a snapshot of the active taxonomy to object storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		if err := settings.CheckCodeReusePolicy(rt.db, string(rt.policy)); err != nil {
			return err
		}
		svc := records.NewService(rt.db, rt.tax, rt.options())
		exporter, _, err := rt.snapshots(cmd.Context(), svc)
		if err != nil {
			return err
		}
		key, err := exporter.Export(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}
