package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	slotcli "github.com/classmeet/video-slots/slot-cli"
	slotevents "github.com/classmeet/video-slots/slot-events"
)

var opts struct {
	Replay  bool
	Meeting string
	From    string
	Stream  string
}

var service = slotcli.NewService("slot-events-tail")

func main() {
	app := slotcli.App(
		service,
		action,
		append(
			slotcli.CommonFlags,
			&cli.BoolFlag{
				Name:        "replay",
				Usage:       "replay the stream from the trim horizon",
				EnvVars:     []string{"REPLAY"},
				Destination: &opts.Replay,
			},
			&cli.StringFlag{
				Name:        "meeting",
				Usage:       "only show events for this meeting id",
				EnvVars:     []string{"MEETING"},
				Destination: &opts.Meeting,
			},
			&cli.StringFlag{
				Name:        "from",
				Usage:       "start at this RFC3339 timestamp",
				EnvVars:     []string{"FROM"},
				Destination: &opts.From,
			},
			&cli.StringFlag{
				Name:        "stream",
				Usage:       "override the audit stream name",
				EnvVars:     []string{"STREAM"},
				Destination: &opts.Stream,
			},
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	streamName := opts.Stream
	if streamName == "" {
		streamName = slotevents.StreamName(slotcli.CommonOpts.Env)
	}

	var from time.Time
	if opts.From != "" {
		parsed, err := time.Parse(time.RFC3339, opts.From)
		if err != nil {
			return fmt.Errorf("invalid --from timestamp %v: %w", opts.From, err)
		}
		from = parsed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return slotevents.Tail(ctx, slotcli.Logger(service), slotevents.TailOpts{
		StreamName: streamName,
		Replay:     opts.Replay,
		MeetingID:  opts.Meeting,
		From:       from,
	})
}
