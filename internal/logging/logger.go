package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger used by every package.
// format is "console" or "json"; an empty level means info.
func Setup(level, format string, out io.Writer) error {
	if out == nil {
		out = os.Stderr
	}

	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	switch strings.ToLower(format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	case "json":
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Str("service", "chatreply").Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

// JobFields identifies one reply-job invocation in log output.
type JobFields struct {
	JobID          int64
	Attempt        int
	OrganizationID int64
	RoomID         int64
	MessageID      int64
}

// WithJob derives a logger carrying the job identifiers and stores it in ctx.
// Downstream code retrieves it with zerolog.Ctx(ctx).
func WithJob(ctx context.Context, f JobFields) (context.Context, *zerolog.Logger) {
	l := zerolog.Ctx(ctx).With().
		Int64("job_id", f.JobID).
		Int("attempt", f.Attempt).
		Int64("organization_id", f.OrganizationID).
		Int64("room_id", f.RoomID).
		Int64("message_id", f.MessageID).
		Logger()
	return l.WithContext(ctx), &l
}

// Truncate shortens text for log output.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
