package main

import (
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tracksync/tracksync-go/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or reset the settings file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := json.MarshalIndent(a.cfg, "", "  ")
			if err != nil {
				return err
			}
			a.printf("%s\n", out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Overwrite the settings file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				path = config.GetConfigPath()
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			a.printf("Wrote default settings to %s\n", path)
			return nil
		},
	})
	return cmd
}
