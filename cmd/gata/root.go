package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gata/internal/config"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gata",
		Short:         "Run the GATA caption labeling agent",
		Long:          "Authenticates with the key in pk.txt, then fetches, scores and submits labeling tasks until interrupted.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.Load()
			if err != nil {
				return &ExitCodeError{Code: 2, Err: err}
			}
			return runAgent(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(newConfigCommand())
	return rootCmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, meta, err := config.Load()
			if err != nil {
				return &ExitCodeError{Code: 2, Err: err}
			}
			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			w := cmd.OutOrStdout()
			if file := meta.File(); file != "" {
				fmt.Fprintf(w, "# loaded from %s\n", file)
			}
			_, err = w.Write(out)
			return err
		},
	})
	return cmd
}
