package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Resolve and check the configuration, printing the effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfiguration(cmd, opts)
			out := cmd.OutOrStdout()
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			if err != nil {
				return err
			}

			if cfg.Influx.Token != "" {
				cfg.Influx.Token = "********"
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("render configuration: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
}
