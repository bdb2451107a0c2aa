package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"

	slotcli "github.com/classmeet/video-slots/slot-cli"
	slotevents "github.com/classmeet/video-slots/slot-events"
	slotws "github.com/classmeet/video-slots/slot-ws"
	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

var service = slotcli.NewService("slot-ws-handler")

func main() {
	app := slotcli.App(
		service,
		action,
		append(
			slotcli.CommonFlags,
			&slotcli.CapacityFlag,
			&slotcli.PolicyFlag,
			&slotcli.EvictToFlag,
			&slotcli.DaxEndpointFlag,
			&slotcli.AuthSecretFlag,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	logger := slotcli.Logger(service)
	env := slotcli.CommonOpts.Env

	policy, err := slotws.ParsePolicy(slotcli.CommonOpts.Policy, slotcli.CommonOpts.Capacity, slotcli.CommonOpts.EvictTo)
	if err != nil {
		return err
	}

	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := slotcli.Dynamo(sess)
	if err != nil {
		return err
	}

	var verifier *slotws.Verifier
	if name := slotcli.CommonOpts.AuthSecret; name != "" {
		var secret struct {
			SigningKey string `json:"signingKey"`
		}
		if err := slotcli.LoadSecret(sess, name, &secret); err != nil {
			return err
		}
		if secret.SigningKey == "" {
			return fmt.Errorf("secret %v is missing signingKey", name)
		}
		verifier = slotws.NewVerifier([]byte(secret.SigningKey))
	}

	metrics := slotcli.NewMetrics(service, cloudwatch.New(sess))

	controller := &slotws.Controller{
		Connections: connectiondao.Build(api, env),
		Slots:       slotdao.Build(api, env),
		Notify:      &slotws.Notifier{Logger: logger},
		Events:      slotevents.Build(env),
		Policy:      policy,
		Logger:      logger,
	}
	handler := &slotws.Handler{
		Controller: controller,
		Logger:     logger,
		ConnTTL:    slotws.DefaultTTL,
		Verifier:   verifier,
		Metrics:    &metrics,
	}

	logger.Info().
		Str("policy", policy.Name()).
		Int("capacity", slotcli.CommonOpts.Capacity).
		Msg("starting websocket handler")

	lambda.Start(handler.HandleEvent)
	return nil
}
