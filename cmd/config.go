package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/chatreply/internal/config"
)

// ConfigCommand manages the chatreply.toml file that drives the reply engine.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create, check and inspect the reply engine configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample chatreply.toml with lock, queue and classifier sections",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "chatreply.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Check lock, queue, classifier and API settings, including CHATREPLY_ overrides",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective reply engine settings with secrets masked",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")
	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	cfg, err := config.LoadConfig(outputPath)
	if err != nil {
		return fmt.Errorf("failed to read back %s: %w", outputPath, err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	printReplySettings(c.App.Writer, cfg)
	fmt.Fprintln(c.App.Writer, "Set ai.api_key and api.jwt_secret, then run `chatreply migrate up`.")
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Configuration is valid: rooms lock through %s for %s, %d workers reply within %s\n",
		cfg.Lock.Backend, cfg.Lock.TTL, cfg.Queue.MaxWorkers, cfg.Queue.JobTimeout)
	if err := config.ValidateAPI(cfg); err != nil {
		fmt.Fprintf(c.App.Writer, "API disabled until fixed: %v (serve with --no-api to run workers only)\n", err)
	}
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	printReplySettings(c.App.Writer, cfg)
	return nil
}

func printReplySettings(w io.Writer, cfg *config.Config) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "lock\tbackend=%s ttl=%s\n", cfg.Lock.Backend, cfg.Lock.TTL)
	fmt.Fprintf(tw, "queue\tworkers=%d attempts=%d job_timeout=%s history=%d\n",
		cfg.Queue.MaxWorkers, cfg.Queue.MaxAttempts, cfg.Queue.JobTimeout, cfg.Queue.HistoryLimit)
	fmt.Fprintf(tw, "selection\tmin_addressee_confidence=%d\n", cfg.Selection.MinAddresseeConfidence)
	fmt.Fprintf(tw, "ai\tdriver=%s provider=%s model=%s api_key=%s\n",
		cfg.AI.Driver, cfg.AI.Provider, cfg.AI.Model, mask(cfg.AI.APIKey))
	fmt.Fprintf(tw, "api\taddr=%s issuer=%s jwt_secret=%s\n", cfg.API.Addr, cfg.API.JWTIssuer, mask(cfg.API.JWTSecret))
	tw.Flush()
}

func mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "****"
}
