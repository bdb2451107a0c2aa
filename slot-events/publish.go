// Package slotevents publishes slot ledger transitions to a Kinesis audit
// stream. Publishing is best effort: the ledger is the source of truth and a
// missed audit event never blocks or rolls back a state transition.
package slotevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	"github.com/rs/zerolog"
)

// Audit actions, one per observable transition.
const (
	ActionConnected    = "connected"
	ActionDisconnected = "disconnected"
	ActionGranted      = "granted"
	ActionPended       = "pended"
	ActionPromoted     = "promoted"
	ActionEvicted      = "evicted"
	ActionReleased     = "released"
)

// Event records one transition for the audit stream.
type Event struct {
	MeetingID     string `json:"meetingId"`
	ParticipantID string `json:"participantId,omitempty"`
	ConnectionID  string `json:"connectionId,omitempty"`
	Action        string `json:"action"`
	At            int64  `json:"at"`
}

// Publisher publishes events to the slot audit Kinesis stream.
type Publisher struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

// New creates a new Publisher.
func New(client kinesisiface.KinesisAPI, streamName string) *Publisher {
	return &Publisher{
		client:     client,
		streamName: streamName,
	}
}

// Build creates a new Publisher using the standard stream name for the given
// environment.
func Build(env string) *Publisher {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	client := kinesis.New(sess)
	return New(client, StreamName(env))
}

// StreamName returns the Kinesis stream name for the given environment.
func StreamName(env string) string {
	return env + "-video-slots--audit"
}

// Emit publishes an event, logging and swallowing any failure. The meeting ID
// is used as the partition key to preserve per-meeting ordering.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.At == 0 {
		event.At = time.Now().UnixMilli()
	}
	if err := p.Send(ctx, event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("meeting_id", event.MeetingID).
			Str("action", event.Action).
			Msg("failed to publish audit event")
	}
}

// Send publishes an event, returning any failure to the caller.
func (p *Publisher) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling audit event: %w", err)
	}

	_, err = p.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(p.streamName),
		PartitionKey: aws.String(event.MeetingID),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing to kinesis stream %v: %w", p.streamName, err)
	}

	return nil
}
