package main

import (
	"fmt"
	"os"

	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfmark/shelfmark/pkg/audit"
	"github.com/shelfmark/shelfmark/pkg/config"
	"github.com/shelfmark/shelfmark/pkg/database"
	"github.com/shelfmark/shelfmark/pkg/migrations"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	app := &cli.App{
		Name:        "shelfmark",
		Usage:       "catalog and circulation store",
		Description: "CLI to bootstrap and inspect a shelfmark database",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "bring the database schema up to date",
				Action: func(c *cli.Context) error {
					group, err := migrations.BringUpToDate(c.Context, db)
					if err != nil {
						return err
					}

					if group.ID == 0 {
						fmt.Printf("There are no new migrations to run\n")
						return nil
					}

					fmt.Printf("Migrated to %s\n", group)
					return nil
				},
			},
			{
				Name:  "audit",
				Usage: "check copy counters against loan history",
				Action: func(c *cli.Context) error {
					report, err := audit.Run(c.Context, db)
					if err != nil {
						return err
					}

					if report.Clean() {
						fmt.Printf("Checked %d books, no drift found\n", report.BooksChecked)
						return nil
					}

					for _, f := range report.Findings {
						fmt.Printf("book %d (%s): %s\n", f.BookID, f.Title, f.Problem)
					}
					return fmt.Errorf("%d of %d books have drifted counters", len(report.Findings), report.BooksChecked)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("command error")
	}
}
