package slotrest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	slotcli "github.com/classmeet/video-slots/slot-cli"
	slotws "github.com/classmeet/video-slots/slot-ws"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

// SlotSource is the read side of the slot ledger needed by the snapshot api.
type SlotSource interface {
	ListByMeeting(ctx context.Context, meetingID string) ([]slotdao.SlotRecord, error)
	Occupancy(ctx context.Context, meetingID string) (int64, error)
}

type meetingView struct {
	MeetingID   string                `json:"meetingId"`
	ActiveCount int64                 `json:"activeCount"`
	Slots       []slotws.SlotSnapshot `json:"slots"`
}

func Routes(service slotcli.Service, slots SlotSource) chi.Router {
	router := chi.NewRouter()
	Middlewares(service, router)

	router.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service.Name,
			"version": service.Version,
		})
	})

	router.Get("/meetings/{meetingID}/slots", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		meetingID := chi.URLParam(req, "meetingID")

		records, err := slots.ListByMeeting(ctx, meetingID)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("meeting_id", meetingID).Msg("unable to list slots")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to list slots"})
			return
		}

		count, err := slots.Occupancy(ctx, meetingID)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("meeting_id", meetingID).Msg("unable to read occupancy")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to read occupancy"})
			return
		}

		view := meetingView{
			MeetingID:   meetingID,
			ActiveCount: count,
			Slots:       make([]slotws.SlotSnapshot, 0, len(records)),
		}
		for _, record := range records {
			view.Slots = append(view.Slots, slotws.SlotSnapshot{
				MeetingID:     record.MeetingID,
				ParticipantID: record.ParticipantID,
				Role:          record.Role,
				ConnectionID:  record.ConnectionID,
				State:         record.State,
				GrantedAt:     record.GrantedAt,
			})
		}

		writeJSON(w, http.StatusOK, view)
	})

	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
