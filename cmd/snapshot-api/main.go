package main

import (
	"log"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli/v2"

	slotcli "github.com/classmeet/video-slots/slot-cli"
	slotrest "github.com/classmeet/video-slots/slot-rest"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

var service = slotcli.NewService("slot-snapshot-api")

func main() {
	app := slotcli.App(
		service,
		action,
		append(
			slotcli.CommonFlags,
			slotcli.PortFlag(5001),
			&slotcli.DaxEndpointFlag,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := slotcli.Dynamo(sess)
	if err != nil {
		return err
	}

	slots := slotdao.Build(api, slotcli.CommonOpts.Env)
	return slotrest.Webserver(service, slotrest.Routes(service, slots))
}
