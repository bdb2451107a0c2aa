package slotdao

// Slot states. A record exists only while its participant is interested in
// sending video; absence of a record means idle.
const (
	StateActive  = "active"
	StatePending = "pending"
)

// OccupancyKey is the sentinel range key of the per-meeting occupancy row.
// The row carries the count of active records and is the serialization point
// for capacity checks; it never appears in meeting listings.
const OccupancyKey = "#occupancy"

const roleModerator = "moderator"

// SlotRecord is one row of the slot ledger: a participant holding (active)
// or waiting for (pending) a video sending slot in a meeting.
type SlotRecord struct {
	MeetingID     string `dynamodbav:"meeting_id" ddb:"hash"`
	ParticipantID string `dynamodbav:"participant_id" ddb:"range"`
	Role          string `dynamodbav:"role,omitempty"`
	ConnectionID  string `dynamodbav:"connection_id,omitempty"`
	State         string `dynamodbav:"state,omitempty"`
	GrantedAt     int64  `dynamodbav:"granted_at,omitempty"` // unix millis; grant or enqueue time
	ActiveCount   int64  `dynamodbav:"active_count,omitempty"`
	TTL           int64  `dynamodbav:"ttl,omitempty"`
}

// IsModerator reports whether the record belongs to the meeting's moderator.
// Moderator records are exempt from the occupancy counter.
func (r SlotRecord) IsModerator() bool {
	return r.Role == roleModerator
}
