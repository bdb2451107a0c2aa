package slotcron

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

// Reaper removes directory and ledger rows whose TTL has passed and
// reconciles each touched meeting's occupancy counter from the surviving
// active records. DynamoDB's native TTL expiry usually gets there first;
// the sweep is the backstop, and the only place counter drift gets repaired.
type Reaper struct {
	Connections *connectiondao.DAO
	Slots       *slotdao.DAO
	Logger      zerolog.Logger
	Dry         bool
	Concurrency int // max concurrent deletes (default 10)
}

// Sweep runs one pass over both tables.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Unix()

	conns, err := r.Connections.ExpiredBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	slots, err := r.Slots.ExpiredBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	r.Logger.Info().
		Int("connections", len(conns)).
		Int("slots", len(slots)).
		Bool("dry", r.Dry).
		Msg("sweeping expired rows")

	if r.Dry {
		return nil
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			return r.Connections.Delete(gctx, conn.ConnectionID)
		})
	}

	meetings := map[string]bool{}
	for _, slot := range slots {
		slot := slot
		meetings[slot.MeetingID] = true
		g.Go(func() error {
			return r.Slots.Delete(gctx, slot.MeetingID, slot.ParticipantID)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for meetingID := range meetings {
		if err := r.reconcile(ctx, meetingID); err != nil {
			r.Logger.Error().Err(err).Str("meeting_id", meetingID).Msg("failed to reconcile occupancy")
		}
	}
	return nil
}

// reconcile recomputes a meeting's occupancy counter from its records.
func (r *Reaper) reconcile(ctx context.Context, meetingID string) error {
	records, err := r.Slots.ListByMeeting(ctx, meetingID)
	if err != nil {
		return err
	}

	var active int64
	for _, rec := range records {
		if rec.State == slotdao.StateActive && !rec.IsModerator() {
			active++
		}
	}

	r.Logger.Info().Str("meeting_id", meetingID).Int64("active", active).Msg("reconciled occupancy counter")
	return r.Slots.PutCounter(ctx, meetingID, active)
}
