package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "klio",
		Short:   "Klio — educational Telegram bot on Russian history",
		Version: version,
	}

	root.AddCommand(
		newBotCmd(),
		newStatsCmd(),
		newCacheCmd(),
		newAuditCmd(),
		newQuotaCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
