package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the Redis report cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached report",
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := openCache(cmd.Context(), cfgManager.Get().Cache)
		if err != nil {
			return err
		}
		defer rc.Close()

		n, err := rc.Purge(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d report(s) deleted\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
}
