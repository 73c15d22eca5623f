package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/logflow/oplog/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or save the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration (default ~/.oplog/config.yaml)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigSave,
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List the configuration files searched, in priority order",
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded := make(map[string]bool)
		for _, p := range cfgManager.GetPaths() {
			loaded[p] = true
		}
		for _, p := range config.DefaultPaths() {
			mark := " "
			if loaded[p] {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, p)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
	configCmd.AddCommand(configPathsCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := cfgManager.Get()

	// Surface invalid settings here rather than at the next analysis.
	if _, err := cfg.Policy(); err != nil {
		log.WithError(err).Warn("analysis settings are invalid")
	}
	if _, err := cfg.ScanConfig(); err != nil {
		log.WithError(err).Warn("input settings are invalid")
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	if err := cfgManager.Save(path); err != nil {
		return err
	}
	log.WithField("path", path).Info("configuration saved")
	return nil
}
