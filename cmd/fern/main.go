package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "fern",
		Short:         "HBI host relationship service and outbox relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional .env file to load before reading the environment")

	cmd.AddCommand(newServeCommand(&envFile))
	cmd.AddCommand(newFlushCommand(&envFile))
	cmd.AddCommand(newMigrateCommand(&envFile))
	return cmd
}

func envFiles(envFile *string) []string {
	if envFile == nil || *envFile == "" {
		return nil
	}
	return []string{*envFile}
}
