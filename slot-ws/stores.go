package slotws

import (
	"context"

	slotevents "github.com/classmeet/video-slots/slot-events"
	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

// ConnectionStore is the slice of the connection directory the handler and
// admission controller depend on. *connectiondao.DAO satisfies it.
type ConnectionStore interface {
	Put(ctx context.Context, conn connectiondao.Connection) error
	Get(ctx context.Context, connectionID string) (*connectiondao.Connection, error)
	Delete(ctx context.Context, connectionID string) error
	FindModerator(ctx context.Context, meetingID string) (*connectiondao.Connection, error)
	FindParticipant(ctx context.Context, meetingID, participantID string) (*connectiondao.Connection, error)
}

// SlotStore is the slice of the slot ledger the admission controller depends
// on. *slotdao.DAO satisfies it.
type SlotStore interface {
	Get(ctx context.Context, meetingID, participantID string) (*slotdao.SlotRecord, error)
	ListByMeeting(ctx context.Context, meetingID string) ([]slotdao.SlotRecord, error)
	Grant(ctx context.Context, rec slotdao.SlotRecord, capacity int) error
	Pend(ctx context.Context, rec slotdao.SlotRecord) error
	Promote(ctx context.Context, meetingID, participantID, connectionID string, grantedAt int64, capacity int) error
	Demote(ctx context.Context, meetingID, participantID string, queuedAt int64) error
	Release(ctx context.Context, meetingID, participantID string) (string, error)
}

// Notify delivers a message to a single connection, best effort. A committed
// state transition must never be rolled back because a notification could
// not land, so implementations log delivery failures instead of returning
// them.
type Notify interface {
	Post(ctx context.Context, conn connectiondao.Connection, msg Message)
}

// EventSink receives audit events for slot state changes, best effort.
type EventSink interface {
	Emit(ctx context.Context, event slotevents.Event)
}
