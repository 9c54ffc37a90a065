package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func scanCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.scheduler.TryScan(cmd.Context()); err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			st := a.scheduler.State()
			fmt.Fprintf(cmd.OutOrStdout(), "scan finished in %v: %d alerts generated in total, %d pending\n",
				st.LastScanDuration, st.AlertsGenerated, len(st.PendingAlerts))
			return nil
		},
	}
}
