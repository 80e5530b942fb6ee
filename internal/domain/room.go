package domain

import (
	"strings"
	"time"
)

// Role is the authorization level a participant claims on join. The claim is
// trusted (no authentication layer) but every privileged command is still
// checked server-side against the stored role.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole maps a client-supplied role string to a Role, defaulting to
// student for anything unrecognized.
func ParseRole(raw string) Role {
	if strings.EqualFold(strings.TrimSpace(raw), string(RoleTeacher)) {
		return RoleTeacher
	}
	return RoleStudent
}

type Participant struct {
	ConnectionID string    `json:"connectionId"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joinedAt"`
	HandRaised   bool      `json:"handRaised"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

type PollStatus string

const (
	PollActive PollStatus = "active"
	PollClosed PollStatus = "closed"
)

type PollOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	VoteCount int    `json:"voteCount"`
}

// Poll holds one question with vote tallies. Voters maps connection id to
// the chosen option id; it is the dedup set and never leaves the server.
type Poll struct {
	ID               string            `json:"id"`
	Question         string            `json:"question"`
	Options          []PollOption      `json:"options"`
	Voters           map[string]string `json:"-"`
	Status           PollStatus        `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
	AutoCloseSeconds int               `json:"autoCloseSeconds,omitempty"`
}

type HandRaise struct {
	ConnectionID string    `json:"connectionId"`
	Username     string    `json:"username"`
	Timestamp    time.Time `json:"timestamp"`
}

type RoomSummary struct {
	StreamKey    StreamKey `json:"streamKey"`
	Participants int       `json:"participants"`
	Live         bool      `json:"live"`
	ActivePolls  int       `json:"activePolls"`
}
