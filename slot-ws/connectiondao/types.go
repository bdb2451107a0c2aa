package connectiondao

// Connection roles. A moderator may grant or revoke any participant's video
// slot and receives meeting snapshots; participants only control their own.
const (
	RoleModerator   = "moderator"
	RoleParticipant = "participant"
)

// Connection maps a live WebSocket connection to the meeting identity it
// represents, stored in DynamoDB. Rows are keyed by connection so a
// reconnecting participant simply writes a fresh row; the orphaned row is
// removed when its own disconnect arrives.
type Connection struct {
	ConnectionID  string `dynamodbav:"pk" ddb:"hash"`
	MeetingID     string `dynamodbav:"meeting_id" ddb:"gsi_hash:MeetingIndex"`
	ParticipantID string `dynamodbav:"participant_id"`
	Role          string `dynamodbav:"role"`
	Endpoint      string `dynamodbav:"endpoint"`
	ConnectedAt   int64  `dynamodbav:"connected_at"`
	TTL           int64  `dynamodbav:"ttl"`
}

// IsModerator reports whether the connection holds the privileged role.
func (c Connection) IsModerator() bool {
	return c.Role == RoleModerator
}
