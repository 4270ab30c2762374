package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/chatreply/internal/database"
	"github.com/chatreply/internal/jobqueue"
)

// MigrateCommand manages the chat schema and River's own tables.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Database migration management",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply pending chat schema and River migrations",
				Action: runMigrateUp,
			},
			{
				Name:  "down",
				Usage: "Roll back chat schema migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "steps",
						Aliases: []string{"n"},
						Usage:   "Number of steps to roll back",
						Value:   1,
					},
				},
				Action: runMigrateDown,
			},
		},
	}
}

func runMigrateUp(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	version, err := database.MigrateUp(cfg.Database.URL)
	if err != nil {
		return err
	}
	log.Info().Uint("version", version).Msg("chat schema migrated")

	pool, err := openPool(c.Context, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return jobqueue.Migrate(c.Context, pool)
}

func runMigrateDown(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	version, err := database.MigrateDown(cfg.Database.URL, c.Int("steps"))
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	log.Info().Uint("version", version).Msg("chat schema rolled back")
	return nil
}
