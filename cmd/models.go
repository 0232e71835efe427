package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"chatrouter/internal/config"
	"chatrouter/internal/provider"
	providerfactory "chatrouter/internal/provider/factory"
)

func newModelsCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models a configuration exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgPath == "" {
				return errors.New("models command requires --config <path>")
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			catalog, err := providerfactory.BuildCatalog(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), modelsTable(catalog))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML configuration file (required)")
	return cmd
}

func modelsTable(catalog *provider.Catalog) string {
	table := uitable.New()
	table.MaxColWidth = 48
	table.AddRow("MODEL", "PROVIDER", "UPSTREAM", "INPUT $/TOK", "OUTPUT $/TOK", "MAX TOKENS", "CONTEXT", "ALIASES")
	for _, entry := range catalog.Entries() {
		table.AddRow(
			entry.Model.ID,
			entry.Model.Provider,
			entry.Model.Upstream,
			entry.Pricing.InputPerToken.String(),
			entry.Pricing.OutputPerToken.String(),
			limit(entry.Limits.MaxTokens),
			limit(entry.Limits.ContextWindow),
			strings.Join(catalog.Aliases(entry.Model.ID), ","),
		)
	}
	return table.String()
}

func limit(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
