package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/klio-ai/klio/pkg/analytics"
	"github.com/klio-ai/klio/pkg/config"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		topics     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			recorder, err := analytics.New(cfg.Analytics.DBPath, newLogger())
			if err != nil {
				return err
			}
			defer recorder.Close()

			ctx := context.Background()

			summaries, err := recorder.Summary(ctx)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EVENT\tCOUNT")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\n", s.Type, s.Count)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			top, err := recorder.TopTopics(ctx, topics)
			if err != nil {
				return err
			}
			if len(top) == 0 {
				return nil
			}

			fmt.Println()
			w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tVIEWS")
			for _, t := range top {
				fmt.Fprintf(w, "%s\t%d\n", t.Topic, t.Count)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "klio.yaml", "path to config file")
	cmd.Flags().IntVar(&topics, "topics", 10, "number of top topics to show")
	return cmd
}
