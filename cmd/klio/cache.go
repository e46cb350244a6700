package main

import (
	"fmt"

	cachepkg "github.com/klio-ai/klio/pkg/cache"
	"github.com/klio-ai/klio/pkg/config"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c := cachepkg.New(cfg.Cache.Path, cfg.Cache.MaxEntries, cfg.Cache.FlushInterval, newLogger())
			defer func() { _ = c.Close() }()

			stats := c.Stats()
			fmt.Printf("Entries: %d\nHits:    %d\nMisses:  %d\n", stats.Entries, stats.Hits, stats.Misses)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop all cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c := cachepkg.New(cfg.Cache.Path, cfg.Cache.MaxEntries, cfg.Cache.FlushInterval, newLogger())
			defer func() { _ = c.Close() }()

			c.InvalidateAll()
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "klio.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
