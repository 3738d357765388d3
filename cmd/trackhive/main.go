// Command trackhive is the CLI entry point: dashboard summary, sync
// status, remote reconciliation, and list/get point lookups over the
// local project stores.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trackhive/trackhive/internal/cli"
	"github.com/trackhive/trackhive/internal/cli/shared"
	"github.com/trackhive/trackhive/internal/telemetry"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)

	ctx := context.Background()
	shutdown, err := telemetry.InstallTracerProvider(ctx, telemetry.ProviderConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "trackhive: tracing disabled: %v\n", err)
		shutdown = func(context.Context) error { return nil }
	}
	defer shutdown(ctx)

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		shared.HandleExitError(err)
	}
}
