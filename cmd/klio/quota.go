package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/klio-ai/klio/pkg/analytics"
	"github.com/klio-ai/klio/pkg/config"
	"github.com/klio-ai/klio/pkg/quota"
	"github.com/spf13/cobra"
)

func newQuotaCmd() *cobra.Command {
	var (
		configPath string
		userID     int64
	)

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show quota usage for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Quota.Enabled || len(cfg.Quota.Policies) == 0 {
				fmt.Println("Quotas are disabled.")
				return nil
			}

			recorder, err := analytics.New(cfg.Analytics.DBPath, newLogger())
			if err != nil {
				return err
			}
			defer recorder.Close()

			enforcer := quota.New(cfg.Quota.Policies, recorder)
			statuses, err := enforcer.Status(context.Background(), userID)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No policies apply to this user.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "POLICY\tPERIOD\tLIMIT\tUSED\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
					s.Policy.UserID, s.Policy.Period, s.Policy.MaxEvents, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "klio.yaml", "path to config file")
	cmd.Flags().Int64Var(&userID, "user", 0, "Telegram user ID")
	return cmd
}
