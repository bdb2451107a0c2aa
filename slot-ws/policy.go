package slotws

import (
	"context"
	"errors"
	"fmt"

	slotevents "github.com/classmeet/video-slots/slot-events"
	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

// Policy decides how start-video requests are admitted and how freed
// capacity is refilled. Two policies ship and the meeting configuration
// selects one: capacity round-robin, where any participant may send while a
// slot is free and the longest-holding sender is evicted when full, and
// moderator-authority, where participants may only request and the moderator
// alone grants.
type Policy interface {
	Name() string
	// RequireRole reports whether connect must carry an explicit role.
	RequireRole() bool
	// Admit handles a start-video request from conn.
	Admit(ctx context.Context, c *Controller, conn connectiondao.Connection) error
	// Refill runs after a slot record is removed or demoted; released is the
	// state the record held.
	Refill(ctx context.Context, c *Controller, meetingID, released string) error
}

// Eviction targets for CapacityPolicy.
const (
	EvictToIdle    = "idle"
	EvictToPending = "pending"
)

// ParsePolicy returns the policy for a configuration name.
func ParsePolicy(name string, capacity int, evictTo string) (Policy, error) {
	switch name {
	case "capacity", "":
		if evictTo == "" {
			evictTo = EvictToIdle
		}
		if evictTo != EvictToIdle && evictTo != EvictToPending {
			return nil, fmt.Errorf("unknown eviction target %v", evictTo)
		}
		return CapacityPolicy{Capacity: capacity, EvictTo: evictTo}, nil
	case "moderator":
		return ModeratorPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown admission policy %v", name)
	}
}

// CapacityPolicy admits any participant while the meeting has a free slot
// and evicts the oldest-granted sender when it does not. Non-privileged
// roles all compete equally; moderator video is never queued or counted
// against them.
type CapacityPolicy struct {
	// Capacity is the maximum simultaneous active senders per meeting;
	// <= 0 means unbounded.
	Capacity int
	// EvictTo is where evicted senders land: EvictToIdle removes their
	// record, EvictToPending re-queues them.
	EvictTo string
}

func (p CapacityPolicy) Name() string      { return "capacity" }
func (p CapacityPolicy) RequireRole() bool { return false }

func (p CapacityPolicy) Admit(ctx context.Context, c *Controller, conn connectiondao.Connection) error {
	capacity := p.Capacity
	if conn.IsModerator() {
		capacity = 0
	}

	err := c.grant(ctx, conn, capacity)
	if errors.Is(err, slotdao.ErrCapacityFull) {
		if err := p.evictOldest(ctx, c, conn.MeetingID); err != nil {
			return err
		}
		err = c.grant(ctx, conn, capacity)
	}
	if err != nil {
		return err
	}

	c.Notify.Post(ctx, conn, StartMessage())
	return nil
}

func (p CapacityPolicy) Refill(ctx context.Context, c *Controller, meetingID, released string) error {
	if released != slotdao.StateActive {
		return nil
	}

	records, err := c.Slots.ListByMeeting(ctx, meetingID)
	if err != nil {
		return err
	}

	// Records come back oldest grant first; promote the longest-waiting
	// pending participant, if any. The conditional write re-checks capacity,
	// so a racing grant at most turns this into a no-op.
	for i := range records {
		if records[i].State != slotdao.StatePending {
			continue
		}
		rec := records[i]
		err := c.Slots.Promote(ctx, meetingID, rec.ParticipantID, rec.ConnectionID, c.now(), p.Capacity)
		switch {
		case errors.Is(err, slotdao.ErrNotPending), errors.Is(err, slotdao.ErrCapacityFull):
			// Raced with another promotion or grant; nothing to do.
		case err != nil:
			return err
		default:
			c.emit(ctx, slotevents.ActionPromoted, meetingID, rec.ParticipantID, rec.ConnectionID)
			p.notifyByConnection(ctx, c, rec.ConnectionID, StartMessage())
		}
		break
	}

	if err := c.SnapshotToModerator(ctx, meetingID); err != nil {
		c.Logger.Error().Err(err).Str("meeting_id", meetingID).Msg("failed to push moderator snapshot after refill")
	}
	return nil
}

// evictOldest frees one slot by evicting the active sender with the oldest
// grant. First granted, first evicted.
func (p CapacityPolicy) evictOldest(ctx context.Context, c *Controller, meetingID string) error {
	records, err := c.Slots.ListByMeeting(ctx, meetingID)
	if err != nil {
		return err
	}

	var oldest *slotdao.SlotRecord
	for i := range records {
		if records[i].State == slotdao.StateActive && !records[i].IsModerator() {
			oldest = &records[i]
			break
		}
	}
	if oldest == nil {
		return fmt.Errorf("meeting %v is at capacity with no active sender to evict", meetingID)
	}

	if p.EvictTo == EvictToPending {
		if err := c.Slots.Demote(ctx, meetingID, oldest.ParticipantID, c.now()); err != nil && !errors.Is(err, slotdao.ErrNotActive) {
			return err
		}
	} else {
		if _, err := c.Slots.Release(ctx, meetingID, oldest.ParticipantID); err != nil {
			return err
		}
	}

	c.emit(ctx, slotevents.ActionEvicted, meetingID, oldest.ParticipantID, oldest.ConnectionID)
	p.notifyByConnection(ctx, c, oldest.ConnectionID, StopMessage())
	return nil
}

// notifyByConnection posts to a connection identified only by handle. A
// missing directory row means the connection is already gone; the eviction
// or promotion stands regardless.
func (p CapacityPolicy) notifyByConnection(ctx context.Context, c *Controller, connectionID string, msg Message) {
	conn, err := c.Connections.Get(ctx, connectionID)
	if err != nil {
		c.Logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to look up connection for notification")
		return
	}
	if conn == nil {
		return
	}
	c.Notify.Post(ctx, *conn, msg)
}

// ModeratorPolicy gives the moderator unconditional admission and exclusive
// authority over everyone else's slot. Participants asking to send are
// parked as pending and surfaced to the moderator, who decides via
// toggle-student-video; nothing is ever auto-granted on their behalf.
type ModeratorPolicy struct{}

func (p ModeratorPolicy) Name() string      { return "moderator" }
func (p ModeratorPolicy) RequireRole() bool { return true }

func (p ModeratorPolicy) Admit(ctx context.Context, c *Controller, conn connectiondao.Connection) error {
	if conn.IsModerator() {
		if err := c.grant(ctx, conn, 0); err != nil {
			return err
		}
		c.Notify.Post(ctx, conn, StartMessage())
		return nil
	}

	rec := slotdao.SlotRecord{
		MeetingID:     conn.MeetingID,
		ParticipantID: conn.ParticipantID,
		Role:          conn.Role,
		ConnectionID:  conn.ConnectionID,
		GrantedAt:     c.now(),
		TTL:           c.expiry(),
	}
	err := c.Slots.Pend(ctx, rec)
	if err != nil && !errors.Is(err, slotdao.ErrAlreadyExists) {
		return err
	}
	if err == nil {
		c.emit(ctx, slotevents.ActionPended, conn.MeetingID, conn.ParticipantID, conn.ConnectionID)
	}

	return c.SnapshotToModerator(ctx, conn.MeetingID)
}

func (p ModeratorPolicy) Refill(ctx context.Context, c *Controller, meetingID, released string) error {
	if released == "" {
		return nil
	}
	// The moderator owns admission; freed capacity is surfaced, never
	// auto-granted.
	return c.SnapshotToModerator(ctx, meetingID)
}
