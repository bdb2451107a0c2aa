package slotws

import (
	"encoding/json"
	"fmt"
)

// Wire message types. Requests carry a payload; notifications carry a
// message. The set is closed: anything else is rejected explicitly.
const (
	MsgPing                = "ping"
	MsgStartVideo          = "start-video"
	MsgStopVideo           = "stop-video"
	MsgToggleStudentVideo  = "toggle-student-video"
	MsgListAvailableVideos = "list-available-videos"
	MsgError               = "error"
)

// Message is the wire unit exchanged over the WebSocket channel.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// TogglePayload is the payload of a toggle-student-video request.
type TogglePayload struct {
	ParticipantID  string `json:"participantId"`
	IsSendingVideo bool   `json:"isSendingVideo"`
}

// SlotSnapshot is one entry of a list-available-videos notification.
type SlotSnapshot struct {
	MeetingID     string `json:"meetingId"`
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	ConnectionID  string `json:"connectionId"`
	State         string `json:"state"`
	GrantedAt     int64  `json:"grantedAt"`
}

// ParseMessage parses a wire message from a JSON string.
func ParseMessage(body string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("missing message type")
	}
	return &msg, nil
}

// PongMessage returns the reply to a ping.
func PongMessage() Message {
	return notification(MsgPing, "pong")
}

// StartMessage instructs a connection to start sending video.
func StartMessage() Message {
	return Message{Type: MsgStartVideo}
}

// StopMessage instructs a connection to stop sending video.
func StopMessage() Message {
	return Message{Type: MsgStopVideo}
}

// ErrorMessage reports an operation failure back over the connection that
// caused it.
func ErrorMessage(errMsg string) Message {
	return notification(MsgError, errMsg)
}

// SnapshotMessage carries the full slot state of a meeting.
func SnapshotMessage(snapshots []SlotSnapshot) Message {
	return notification(MsgListAvailableVideos, snapshots)
}

func notification(msgType string, body interface{}) Message {
	raw, _ := json.Marshal(body)
	return Message{Type: msgType, Message: raw}
}
