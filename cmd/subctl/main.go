// Command subctl is the operator CLI of the subscription service. Every write
// goes through the same validated and audited paths the admin API uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alipala/language-tutor-sub001/pkg/config"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
	"github.com/alipala/language-tutor-sub001/svc/subscriptions"
)

var (
	envFiles []string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:           "subctl",
	Short:         "Operate the subscription reconciliation service",
	Long:          `Reconcile users against the billing provider, recompute usage and apply audited overrides.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv file to load before reading the environment (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level to stderr")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "subctl: %v\n", err)
		os.Exit(1)
	}
}

// withService opens the service for the duration of fn.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *subscriptions.Service) error) error {
	ctx := cmd.Context()

	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.New(
		logger.WithOutput(cmd.ErrOrStderr()),
		logger.WithFormat(logger.FormatText),
		logger.WithLevelName(level),
		logger.WithAttr(logger.Component("subctl")),
	)

	var opts []config.Option
	if len(envFiles) > 0 {
		opts = append(opts, config.WithEnvFiles(envFiles...))
	}
	svc, err := subscriptions.Open(ctx, log, nil, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()

	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
