// Command syncctl runs a single sync or season query from the command line
// using the same pipeline as the worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pickem/ingestion/internal/api"
	"pickem/ingestion/internal/app"
	"pickem/ingestion/internal/config"
	"pickem/ingestion/internal/syncer"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.DefaultContextLogger = &log.Logger

	cliApp := &cli.App{
		Name:  "syncctl",
		Usage: "run schedule syncs on demand",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "fetch and reconcile into memory without touching Postgres or Redis",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := zerolog.ParseLevel(c.String("log-level"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid log level %q", c.String("log-level")), 2)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "competitors",
				Usage: "sync every competitor of the sport",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					return report(c.Context, a, a.Syncer.SyncCompetitors(c.Context))
				}),
			},
			{
				Name:  "events",
				Usage: "sync events for the rolling window, a season, or a date range",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "season", Usage: "sync every event of this season year"},
					&cli.StringFlag{Name: "from", Usage: "first day to sync (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "to", Usage: "last day to sync, inclusive (YYYY-MM-DD)"},
				},
				Action: withApp(syncEvents),
			},
			{
				Name:  "full",
				Usage: "sync competitors, then events",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					res := a.Syncer.FullSync(c.Context)
					if err := printJSON(res); err != nil {
						return err
					}
					if !res.OK() {
						return cli.Exit("full sync failed", 1)
					}
					return nil
				}),
			},
			{
				Name:  "season",
				Usage: "show the current season, or the boundaries of --year",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "year", Usage: "season year to resolve boundaries for"},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					if year := c.Int("year"); year > 0 {
						return printJSON(a.Syncer.SeasonBoundaries(c.Context, year))
					}
					return printJSON(map[string]int{"year": a.Syncer.CurrentSeason(c.Context)})
				}),
			},
			{
				Name:  "status",
				Usage: "show the last run of each sync class",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					out := make(map[string]*syncer.ClassResult)
					for _, class := range []string{syncer.ClassCompetitors, syncer.ClassEvents, syncer.ClassFull} {
						last, err := a.Syncer.LastRun(c.Context, class)
						if err != nil {
							return err
						}
						out[class] = last
					}
					return printJSON(out)
				}),
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("syncctl failed")
	}
}

// withApp loads configuration and wires the components around a command
func withApp(fn func(c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		dryRun := c.Bool("dry-run")

		load := config.Load
		if dryRun {
			load = config.LoadWithoutDatabase
		}
		cfg, err := load()
		if err != nil {
			return err
		}

		a, err := app.New(c.Context, cfg, app.Options{DryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(c, a)
	}
}

func syncEvents(c *cli.Context, a *app.App) error {
	var res syncer.ClassResult
	switch {
	case c.IsSet("season"):
		if c.IsSet("from") || c.IsSet("to") {
			return cli.Exit("--season cannot be combined with --from/--to", 2)
		}
		res = a.Syncer.SyncEventsForSeason(c.Context, c.Int("season"))

	case c.IsSet("from") || c.IsSet("to"):
		start, end, err := api.ParseDateRange(c.String("from"), c.String("to"))
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		res = a.Syncer.SyncEventsRange(c.Context, start, end)

	default:
		res = a.Syncer.SyncEvents(c.Context)
	}

	return report(c.Context, a, res)
}

// report prints a class result and a summary of the store, failing the command on a failed run
func report(ctx context.Context, a *app.App, res syncer.ClassResult) error {
	if err := printJSON(res); err != nil {
		return err
	}

	year := res.Season
	if year == 0 {
		year = a.Syncer.CurrentSeason(ctx)
	}
	if summary, err := a.Summary(ctx, year); err != nil {
		log.Warn().Err(err).Msg("Failed to summarize store")
	} else {
		log.Info().Msg(summary)
	}

	if res.Status == syncer.StatusFailed {
		return cli.Exit(fmt.Sprintf("%s sync failed at %s: %s", res.Class, res.FailedStage, res.Error), 1)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
