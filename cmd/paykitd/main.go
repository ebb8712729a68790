package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	environment "paykit/internal/env"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "paykitd",
		Short:         "Resolve payees' supported payments and execute payments against them",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(endpointCmd())
	rootCmd.AddCommand(contactsCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(subsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withEnv runs fn against a fully wired environment without starting any
// server or worker.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *environment.Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := environment.Setup(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup environment: %w", err)
	}
	defer func() {
		for _, closer := range env.Closers {
			closer()
		}
	}()

	return fn(ctx, env)
}
