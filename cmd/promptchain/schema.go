package main

import (
	"fmt"
	"strings"

	"github.com/simon020286/go-promptchain"
	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/config"
	"github.com/spf13/cobra"
)

func newSchemaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of chain definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.ChainSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <chain-file>...",
		Short: "Validate chain definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				def, err := config.LoadChainFile(path)
				if err != nil {
					return err
				}
				if _, _, err := promptchain.BuildFromConfig(def); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			return nil
		},
	})
	return cmd
}

func newChainsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List the available named chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			for _, name := range a.chains.List() {
				def, _ := a.chains.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, def.Description)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nstep kinds: %s\n", strings.Join(builder.ListStepTypes(), ", "))
			return nil
		},
	}
}
