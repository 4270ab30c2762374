package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/chatreply/internal/jobqueue"
)

// EnqueueCommand queues reply handling for one message, for backfills and
// manual retries.
func EnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Queue reply handling for a posted message",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "org", Usage: "Organization `ID`", Required: true},
			&cli.Int64Flag{Name: "room", Usage: "Room `ID`", Required: true},
			&cli.Int64Flag{Name: "message", Usage: "Message `ID`", Required: true},
		},
		Action: runEnqueue,
	}
}

func runEnqueue(c *cli.Context) error {
	args := jobqueue.MessagePostedArgs{
		OrganizationID: c.Int64("org"),
		RoomID:         c.Int64("room"),
		MessageID:      c.Int64("message"),
	}
	if args.OrganizationID <= 0 || args.RoomID <= 0 || args.MessageID <= 0 {
		return fmt.Errorf("--org, --room and --message must be positive")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pool, err := openPool(c.Context, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	queue, err := jobqueue.NewInsertOnlyJobQueue(pool, &cfg.Queue)
	if err != nil {
		return err
	}

	jobID, duplicate, err := queue.EnqueueMessagePosted(c.Context, args)
	if err != nil {
		return err
	}
	log.Info().
		Int64("job_id", jobID).
		Bool("duplicate", duplicate).
		Int64("message_id", args.MessageID).
		Msg("message queued")
	return nil
}
