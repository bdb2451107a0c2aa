package slotws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	slotevents "github.com/classmeet/video-slots/slot-events"
	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

// DefaultTTL bounds abandoned directory and ledger rows, a backstop for
// missed disconnect signals.
const DefaultTTL = 24 * time.Hour

// Controller runs the admission state machine over the directory and ledger
// stores. All mutation goes through conditional single-row writes in the
// stores; the controller holds no state of its own and every operation is
// safe to replay.
type Controller struct {
	Connections ConnectionStore
	Slots       SlotStore
	Notify      Notify
	Events      EventSink // optional
	Policy      Policy
	Logger      zerolog.Logger

	// Clock overrides the timestamp source; nil means time.Now.
	Clock func() time.Time
}

// StartVideo handles a start-video request from conn.
func (c *Controller) StartVideo(ctx context.Context, conn connectiondao.Connection) error {
	return c.Policy.Admit(ctx, c, conn)
}

// StopVideo handles a stop-video request from conn. Stopping with no slot
// record is a no-op beyond confirming the idle state.
func (c *Controller) StopVideo(ctx context.Context, conn connectiondao.Connection) error {
	released, err := c.Slots.Release(ctx, conn.MeetingID, conn.ParticipantID)
	if err != nil {
		return err
	}

	c.Notify.Post(ctx, conn, StopMessage())

	if released == "" {
		return nil
	}
	c.emit(ctx, slotevents.ActionReleased, conn.MeetingID, conn.ParticipantID, conn.ConnectionID)
	return c.Policy.Refill(ctx, c, conn.MeetingID, released)
}

// ToggleVideo handles a toggle-student-video request. Only the moderator may
// toggle, and the target must have a live connection; the target's identity
// and role come from the directory, never from the payload.
func (c *Controller) ToggleVideo(ctx context.Context, conn connectiondao.Connection, payload TogglePayload) error {
	if !conn.IsModerator() {
		c.Notify.Post(ctx, conn, ErrorMessage("only the moderator can toggle participant video"))
		return nil
	}

	target, err := c.Connections.FindParticipant(ctx, conn.MeetingID, payload.ParticipantID)
	if err != nil {
		return err
	}
	if target == nil {
		c.Notify.Post(ctx, conn, ErrorMessage(fmt.Sprintf("participant %v is not connected", payload.ParticipantID)))
		return nil
	}

	if payload.IsSendingVideo {
		if err := c.activate(ctx, *target); err != nil {
			return err
		}
		c.Notify.Post(ctx, *target, StartMessage())
	} else {
		released, err := c.Slots.Release(ctx, target.MeetingID, target.ParticipantID)
		if err != nil {
			return err
		}
		c.Notify.Post(ctx, *target, StopMessage())
		if released != "" {
			c.emit(ctx, slotevents.ActionReleased, target.MeetingID, target.ParticipantID, target.ConnectionID)
		}
	}

	return c.SnapshotTo(ctx, conn)
}

// ListAvailable handles a list-available-videos request from the moderator.
func (c *Controller) ListAvailable(ctx context.Context, conn connectiondao.Connection) error {
	if !conn.IsModerator() {
		c.Notify.Post(ctx, conn, ErrorMessage("only the moderator can list available videos"))
		return nil
	}
	return c.SnapshotTo(ctx, conn)
}

// HandleDisconnect cleans up after conn has gone away: its slot record is
// released, freed capacity refilled, and its directory row removed. There is
// no connection to report failures to, so they are logged only; clients
// reconcile via list-available-videos.
func (c *Controller) HandleDisconnect(ctx context.Context, conn connectiondao.Connection) {
	logger := c.Logger.With().
		Str("connection_id", conn.ConnectionID).
		Str("meeting_id", conn.MeetingID).
		Str("participant_id", conn.ParticipantID).
		Logger()

	released, err := c.Slots.Release(ctx, conn.MeetingID, conn.ParticipantID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to release slot on disconnect")
	}
	if released != "" {
		c.emit(ctx, slotevents.ActionReleased, conn.MeetingID, conn.ParticipantID, conn.ConnectionID)
		if err := c.Policy.Refill(ctx, c, conn.MeetingID, released); err != nil {
			logger.Error().Err(err).Msg("failed to refill capacity on disconnect")
		}
	}

	if err := c.Connections.Delete(ctx, conn.ConnectionID); err != nil {
		logger.Error().Err(err).Msg("failed to delete connection")
	}

	c.emit(ctx, slotevents.ActionDisconnected, conn.MeetingID, conn.ParticipantID, conn.ConnectionID)

	// Keep the moderator's view current when a participant drops.
	if !conn.IsModerator() {
		if err := c.SnapshotToModerator(ctx, conn.MeetingID); err != nil {
			logger.Error().Err(err).Msg("failed to push moderator snapshot on disconnect")
		}
	}
}

// SnapshotTo pushes the meeting's full slot state to conn.
func (c *Controller) SnapshotTo(ctx context.Context, conn connectiondao.Connection) error {
	records, err := c.Slots.ListByMeeting(ctx, conn.MeetingID)
	if err != nil {
		return err
	}

	snapshots := make([]SlotSnapshot, 0, len(records))
	for _, rec := range records {
		snapshots = append(snapshots, SlotSnapshot{
			MeetingID:     rec.MeetingID,
			ParticipantID: rec.ParticipantID,
			Role:          rec.Role,
			ConnectionID:  rec.ConnectionID,
			State:         rec.State,
			GrantedAt:     rec.GrantedAt,
		})
	}

	c.Notify.Post(ctx, conn, SnapshotMessage(snapshots))
	return nil
}

// SnapshotToModerator pushes the meeting's slot state to its moderator
// connection, if one exists. No moderator is not an error; the snapshot
// simply has no recipient until one connects.
func (c *Controller) SnapshotToModerator(ctx context.Context, meetingID string) error {
	moderator, err := c.Connections.FindModerator(ctx, meetingID)
	if err != nil {
		return err
	}
	if moderator == nil {
		return nil
	}
	return c.SnapshotTo(ctx, *moderator)
}

// grant admits conn as an active sender, promoting an existing pending
// record when one exists. capacity <= 0 skips the occupancy check. Replayed
// grants for an already-active sender are a no-op.
func (c *Controller) grant(ctx context.Context, conn connectiondao.Connection, capacity int) error {
	rec := slotdao.SlotRecord{
		MeetingID:     conn.MeetingID,
		ParticipantID: conn.ParticipantID,
		Role:          conn.Role,
		ConnectionID:  conn.ConnectionID,
		GrantedAt:     c.now(),
		TTL:           c.expiry(),
	}

	err := c.Slots.Grant(ctx, rec, capacity)
	if errors.Is(err, slotdao.ErrAlreadyExists) {
		err = c.Slots.Promote(ctx, conn.MeetingID, conn.ParticipantID, conn.ConnectionID, c.now(), capacity)
		if errors.Is(err, slotdao.ErrNotPending) {
			return nil
		}
		if err == nil {
			c.emit(ctx, slotevents.ActionPromoted, conn.MeetingID, conn.ParticipantID, conn.ConnectionID)
		}
		return err
	}
	if err == nil {
		c.emit(ctx, slotevents.ActionGranted, conn.MeetingID, conn.ParticipantID, conn.ConnectionID)
	}
	return err
}

// activate is the moderator-override path: idle targets are granted, pending
// targets promoted, active targets left alone. Capacity is never checked;
// the moderator's word is final.
func (c *Controller) activate(ctx context.Context, target connectiondao.Connection) error {
	return c.grant(ctx, target, 0)
}

func (c *Controller) emit(ctx context.Context, action, meetingID, participantID, connectionID string) {
	if c.Events == nil {
		return
	}
	c.Events.Emit(ctx, slotevents.Event{
		MeetingID:     meetingID,
		ParticipantID: participantID,
		ConnectionID:  connectionID,
		Action:        action,
		At:            c.now(),
	})
}

func (c *Controller) now() int64 {
	if c.Clock != nil {
		return c.Clock().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (c *Controller) expiry() int64 {
	if c.Clock != nil {
		return c.Clock().Add(DefaultTTL).Unix()
	}
	return time.Now().Add(DefaultTTL).Unix()
}
