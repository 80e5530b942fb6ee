package room

// Event is the typed envelope every room participant receives. Data is
// marshaled as-is by the transport.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Event types pushed to participants.
const (
	EventRoomState         = "room-state"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventChatMessage       = "chat-message"
	EventUserTyping        = "user-typing"
	EventNewPoll           = "new-poll"
	EventPollUpdated       = "poll-updated"
	EventPollClosed        = "poll-closed"
	EventHandRaised        = "hand-raised"
	EventHandLowered       = "hand-lowered"
	EventSettingsUpdated   = "settings-updated"
	EventStreamStarted     = "stream-started"
	EventStreamEnded       = "stream-ended"
	EventStreamFailed      = "stream-failed"
)

// Sender delivers events to one connected participant. Send must not block:
// it reports false when the participant cannot keep up, after which the room
// closes the sender and drops the participant.
type Sender interface {
	ID() string
	Send(Event) bool
	Close()
}
