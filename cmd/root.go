package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCommand assembles the CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatrouter",
		Short: "chatrouter routes chat requests to hosted LLM providers.",
		Long: `chatrouter exposes one chat API in front of OpenAI, Anthropic, Google and
Hugging Face models, normalising replies, token usage and cost.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newModelsCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
