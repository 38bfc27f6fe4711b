package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"NewsDesk/internal/app"
	"NewsDesk/internal/config"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "newsdesk",
		Usage: "scrape, deduplicate and rewrite news into editorial drafts",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scheduler, the processing pipeline and the HTTP API",
				Action: serve,
			},
			{
				Name:  "scrape",
				Usage: "scrape sources once",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Usage: "slug of a single source to scrape"},
				},
				Action: scrape,
			},
			{
				Name:   "process",
				Usage:  "process pending raw articles once",
				Action: process,
			},
			{
				Name:   "migrate",
				Usage:  "create the database schema",
				Action: migrate,
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	application, err := newApplication(c.Context)
	if err != nil {
		return err
	}
	defer application.Close()
	return application.Serve(c.Context)
}

func scrape(c *cli.Context) error {
	application, err := newApplication(c.Context)
	if err != nil {
		return err
	}
	defer application.Close()

	reports, err := application.Scrape(c.Context, c.String("source"))
	if err != nil {
		return err
	}
	for _, r := range reports {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Printf("%-24s found=%d inserted=%d existing=%d %s\n", r.Slug, r.Found, r.Inserted, r.Existing, status)
	}
	return nil
}

func process(c *cli.Context) error {
	application, err := newApplication(c.Context)
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Process(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("attempted=%d processed=%d duplicate=%d failed=%d skipped=%d errors=%d\n",
		stats.Total(),
		stats.Count(usecase.OutcomeProcessed),
		stats.Count(usecase.OutcomeDuplicate),
		stats.Count(usecase.OutcomeFailed),
		stats.Count(usecase.OutcomeSkipped),
		stats.Errors())
	return nil
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := app.Migrate(c.Context, cfg); err != nil {
		return err
	}
	fmt.Println("schema up to date")
	return nil
}

func newApplication(ctx context.Context) (*app.Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logging.New(cfg.Logging.Level))
}
