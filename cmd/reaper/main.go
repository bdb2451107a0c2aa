package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli/v2"

	slotcli "github.com/classmeet/video-slots/slot-cli"
	slotcron "github.com/classmeet/video-slots/slot-cron"
	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

var service = slotcli.NewService("slot-reaper")

func main() {
	app := slotcli.App(
		service,
		action,
		append(
			slotcli.CommonFlags,
			&slotcli.DaxEndpointFlag,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	env := slotcli.CommonOpts.Env

	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := slotcli.Dynamo(sess)
	if err != nil {
		return err
	}

	reaper := &slotcron.Reaper{
		Connections: connectiondao.Build(api, env),
		Slots:       slotdao.Build(api, env),
		Logger:      slotcli.Logger(service),
		Dry:         slotcli.CommonOpts.Dry,
	}

	handler := slotcron.NewHandler(service, func(ctx context.Context) error {
		return reaper.Sweep(ctx)
	})
	return handler.Start()
}
