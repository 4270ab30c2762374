package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chatreply/internal/api/auth"
	"github.com/chatreply/internal/config"
)

// TokenCommand issues service tokens for chat backends calling the API.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an API token for an organization",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "org", Usage: "Organization `ID`", Required: true},
			&cli.StringFlag{Name: "subject", Usage: "Name of the calling service", Value: "chat-backend"},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := config.ValidateAPI(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			tokens := auth.NewTokenService(cfg.API.JWTSecret, cfg.API.JWTIssuer)
			tokens.TokenDuration = c.Duration("ttl")
			token, err := tokens.Issue(c.Int64("org"), c.String("subject"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}
