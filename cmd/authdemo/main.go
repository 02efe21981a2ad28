// Command authdemo runs an authcore server and its maintenance tasks.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	store     string
	dataDir   string
	dsn       string
	projectID string
	namespace string
	debug     bool
}

func (g *globalFlags) logger() *slog.Logger {
	level := slog.LevelInfo
	if g.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "authdemo",
		Short: "Accounts, sessions and federated login over HTTP",
		Long: `authdemo serves authcore's HTTP routes under /auth and a small API
that demonstrates authentication and role gating.

Settings are read from AUTHCORE_* and OAUTH2_<PROVIDER>_* environment
variables; flags override them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.store, "store", "memory", "storage backend: memory, fs, sqlite or datastore")
	pf.StringVar(&flags.dataDir, "data-dir", "./data", "directory of the fs backend")
	pf.StringVar(&flags.dsn, "dsn", "authcore.db", "sqlite database file")
	pf.StringVar(&flags.projectID, "project", os.Getenv("DATASTORE_PROJECT_ID"), "datastore project id")
	pf.StringVar(&flags.namespace, "namespace", "", "datastore namespace")
	pf.BoolVar(&flags.debug, "debug", false, "log at debug level")

	rootCmd.AddCommand(
		serveCmd(flags),
		promoteCmd(flags),
		sweepCmd(flags),
	)
	rootCmd.AddCommand(remoteCmds()...)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
