// Package cmd defines the scout command tree.
//
// Every subcommand loads the configuration, builds an app.App in the
// persistent pre-run hook, and finds it again through the command context.
// The app is closed after the command returns, whether or not it failed.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/doublescout/internal/app"
	"github.com/JakeFAU/doublescout/internal/config"
)

// annotationStatusServer marks commands that serve the status endpoints
// while they run.
const annotationStatusServer = "status-server"

// appKey is the context key for the appHolder.
type appKey struct{}

// appHolder outlives the command so Execute can close the app even when RunE
// fails and cobra skips the post-run hooks.
type appHolder struct {
	app *app.App
}

// newApp is the application factory. Tests replace it.
var newApp = app.Build

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scout",
		Short: "Crawl the armory listings and reconcile them into one dataset.",
		Long: `scout walks the armory character listing twice, once ordered by playtime and
once ordered by name, saving every page to a resumable tech database. After
the crawl it merges both streams into the final database: playtime rows keep
their rank and win on conflict, name rows fill the gaps.

Interrupted crawls resume from their checkpoints on the next run.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			holder, ok := cmd.Context().Value(appKey{}).(*appHolder)
			if !ok {
				return errors.New("command context carries no app holder")
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, app.Options{
				StatusServer: cmd.Annotations[annotationStatusServer] == "true",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			holder.app = a
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")

	cmd.AddCommand(
		newCrawlCmd(),
		newMergeCmd(),
		newStatusCmd(),
		newExportCmd(),
	)
	return cmd
}

// applyFlagOverrides copies explicitly set command flags over the loaded
// configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("playtime-only") {
		v, _ := flags.GetBool("playtime-only")
		cfg.Crawler.PlaytimeOnly = v
	}
	if flags.Changed("max-pages") {
		v, _ := flags.GetInt("max-pages")
		cfg.Crawler.MaxPagesPerRun = v
	}
	if flags.Changed("status-addr") {
		v, _ := flags.GetString("status-addr")
		cfg.Metrics.ListenAddr = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	holder, ok := ctx.Value(appKey{}).(*appHolder)
	if !ok || holder.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return holder.app, nil
}

// run executes the command tree with args and closes the app afterwards.
func run(ctx context.Context, args []string, out io.Writer) error {
	holder := &appHolder{}
	ctx = context.WithValue(ctx, appKey{}, holder)
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(ctx)
	if holder.app != nil {
		if cerr := holder.app.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", cerr))
		}
	}
	return err
}

// Execute runs the CLI and returns the process exit code. SIGINT and SIGTERM
// cancel the command context; a crawl then stops at the next page boundary.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
