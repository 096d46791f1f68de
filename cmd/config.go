package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		shown := *cfg
		if shown.Auth.Secret != "" {
			shown.Auth.Secret = "********"
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(&shown); err != nil {
			return eris.Wrap(err, "config: encode yaml")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
