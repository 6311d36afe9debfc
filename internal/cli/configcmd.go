package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/syncspace/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fail(out, ExitCommandError, CodeInvalid, "failed to load config", err)
			}
			if out.Format == "json" {
				return out.Success(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			if err := config.DefaultConfig().Save(rootOpts.ConfigPath); err != nil {
				return fail(out, ExitCommandError, CodeInvalid, "failed to write config", err)
			}
			return out.Success("wrote " + rootOpts.ConfigPath)
		},
	})
	return cmd
}
