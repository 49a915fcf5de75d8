package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngoclaw/codexcore/internal/appwiring"
	"github.com/ngoclaw/codexcore/internal/layeredconfig"
)

// configCmd exposes the layered config engine's read/write_value
// operations (spec §6's `config/read` and `config/value/write` JSON-RPC
// methods) as a local subcommand, the way the teacher's CLI lets
// `ngoclaw config` inspect the viper-merged config without going through
// the gateway.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect or edit the layered configuration",
	}
	cmd.AddCommand(configReadCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "print the merged effective configuration with provenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			env, err := appwiring.Load("", logger)
			if err != nil {
				return err
			}
			res, err := env.ConfigEngine.Read(true)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{
				"config":  res.Config,
				"origins": res.Origins,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "set <key.path> <json-value>",
		Short: "write one key in the user config layer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			env, err := appwiring.Load("", logger)
			if err != nil {
				return err
			}

			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				// Bare scalars without quotes (e.g. `true`, `5`, a plain
				// word) should still work from a shell prompt.
				value = args[1]
			}

			mergeStrategy := layeredconfig.MergeReplace
			if strategy == "upsert" {
				mergeStrategy = layeredconfig.MergeUpsert
			}

			result, err := env.ConfigEngine.Write(layeredconfig.WriteRequest{
				Edits: []layeredconfig.Edit{{KeyPath: args[0], Value: value, Strategy: mergeStrategy}},
			})
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\n", result.Status)
			if result.OverriddenMessage != "" {
				fmt.Println(result.OverriddenMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "replace", "merge strategy: replace|upsert")
	return cmd
}
