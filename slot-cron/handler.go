// Package slotcron provides the scheduled reaper that garbage-collects
// abandoned directory and ledger rows.
package slotcron

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	slotcli "github.com/classmeet/video-slots/slot-cli"
)

type RunCallback func(ctx context.Context) error

type Handler struct {
	service slotcli.Service
	logger  zerolog.Logger

	runOnce RunCallback
}

func NewHandler(
	service slotcli.Service,
	runOnce RunCallback,
) *Handler {
	return &Handler{
		service: service,
		logger:  slotcli.Logger(service),
		runOnce: runOnce,
	}
}

func (h *Handler) RunOnce(ctx context.Context, _ json.RawMessage) error {
	h.logger.Info().Msg("running scheduled sweep")
	return h.runOnce(h.logger.WithContext(ctx))
}

func (h *Handler) Start() error {
	switch {
	case slotcli.CommonOpts.Console:
		return h.runOnce(h.logger.WithContext(context.Background()))

	default:
		lambda.Start(h.RunOnce)
	}
	return nil
}
