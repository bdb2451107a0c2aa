package slotevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	consumer "github.com/harlow/kinesis-consumer"
	"github.com/rs/zerolog"
)

// TailOpts configures a console tail of the audit stream.
type TailOpts struct {
	StreamName string
	Replay     bool      // start from the trim horizon instead of latest
	MeetingID  string    // when set, only events for this meeting are shown
	From       time.Time // when set, start at this timestamp
}

// Tail follows the audit stream and logs each event, for operators watching
// a live meeting. Blocks until the context is cancelled.
func Tail(ctx context.Context, logger zerolog.Logger, opts TailOpts) error {
	var options []consumer.Option
	switch {
	case !opts.From.IsZero():
		options = append(options, consumer.WithShardIteratorType("AT_TIMESTAMP"))
		options = append(options, consumer.WithTimestamp(opts.From))
	case opts.Replay:
		options = append(options, consumer.WithShardIteratorType("TRIM_HORIZON"))
	default:
		options = append(options, consumer.WithShardIteratorType("LATEST"))
	}

	c, err := consumer.New(opts.StreamName, options...)
	if err != nil {
		return fmt.Errorf("failed to create consumer for stream %v: %w", opts.StreamName, err)
	}

	fmt.Println("Listening...")
	return c.Scan(ctx, func(record *consumer.Record) error {
		var event Event
		if err := json.Unmarshal(record.Data, &event); err != nil {
			logger.Warn().Err(err).Msg("skipping malformed audit record")
			return nil
		}
		if opts.MeetingID != "" && event.MeetingID != opts.MeetingID {
			return nil
		}
		logger.Info().
			Str("meeting_id", event.MeetingID).
			Str("participant_id", event.ParticipantID).
			Str("connection_id", event.ConnectionID).
			Str("action", event.Action).
			Int64("at", event.At).
			Msg("slot event")
		return nil
	})
}
