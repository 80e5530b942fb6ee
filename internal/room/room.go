package room

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"classcast/internal/domain"
)

var (
	ErrNotParticipant = errors.New("not a participant of this room")
	ErrForbidden      = errors.New("operation requires the teacher role")
	ErrPollNotFound   = errors.New("poll not found")
	ErrPollClosed     = errors.New("poll is closed")
	ErrAlreadyVoted   = errors.New("already voted in this poll")
	ErrInvalidOption  = errors.New("poll option does not exist")
	ErrEmptyMessage   = errors.New("message body is empty")
	ErrInvalidPoll    = errors.New("poll needs a question and at least two options")
)

const maxChatBodyLen = 2000

type participant struct {
	domain.Participant
	sender Sender
}

// Room is the realtime state for one stream key: presence, chat, polls, the
// hand-raise queue and the codec policy. One mutex guards everything; events
// are broadcast while it is held, so every participant observes the same
// total order.
type Room struct {
	key           domain.StreamKey
	chatRetention int
	logger        *slog.Logger
	onDrop        func() // notifies the registry a sender was force-dropped

	mu           sync.Mutex
	participants map[string]*participant
	chat         []domain.ChatMessage
	polls        map[string]*domain.Poll
	pollTimers   map[string]*time.Timer
	handQueue    []domain.HandRaise
	policy       domain.CodecPolicy
	live         bool
}

func newRoom(key domain.StreamKey, chatRetention int, logger *slog.Logger, onDrop func()) *Room {
	return &Room{
		key:           key,
		chatRetention: chatRetention,
		logger:        logger,
		onDrop:        onDrop,
		participants:  make(map[string]*participant),
		polls:         make(map[string]*domain.Poll),
		pollTimers:    make(map[string]*time.Timer),
	}
}

func (r *Room) Key() domain.StreamKey { return r.key }

// roomState is the full snapshot sent to a participant on join.
type roomState struct {
	StreamKey    domain.StreamKey     `json:"streamKey"`
	Live         bool                 `json:"live"`
	Policy       domain.CodecPolicy   `json:"policy"`
	Participants []domain.Participant `json:"participants"`
	Chat         []domain.ChatMessage `json:"chat"`
	Polls        []domain.Poll        `json:"polls"`
	HandQueue    []domain.HandRaise   `json:"handQueue"`
}

// Join registers the sender as a participant. The joiner receives the full
// room state; everyone else receives participant-joined.
func (r *Room) Join(sender Sender, username string, role domain.Role) domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &participant{
		Participant: domain.Participant{
			ConnectionID: sender.ID(),
			Username:     username,
			Role:         role,
			JoinedAt:     time.Now(),
		},
		sender: sender,
	}
	r.participants[p.ConnectionID] = p

	r.broadcastExceptLocked(p.ConnectionID, Event{Type: EventParticipantJoined, Data: p.Participant})
	if !sender.Send(Event{Type: EventRoomState, Data: r.stateLocked()}) {
		r.dropLocked(p.ConnectionID)
	}
	return p.Participant
}

// Leave removes the participant, lowering their hand first if it was raised.
func (r *Room) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
}

func (r *Room) leaveLocked(connID string) {
	p, ok := r.participants[connID]
	if !ok {
		return
	}
	delete(r.participants, connID)
	if p.HandRaised {
		r.removeHandLocked(connID)
		r.broadcastLocked(Event{Type: EventHandLowered, Data: handPayload{
			ConnectionID: connID,
			Username:     p.Username,
			Queue:        r.queueSnapshotLocked(),
		}})
	}
	r.broadcastLocked(Event{Type: EventParticipantLeft, Data: p.Participant})
}

// Chat appends a message, trims history to the retention window and
// broadcasts it to the whole room, the author included.
func (r *Room) Chat(connID, body string) (domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if len(body) > maxChatBodyLen {
		// Trim on a rune boundary so the broadcast stays valid UTF-8.
		cut := maxChatBodyLen
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return domain.ChatMessage{}, ErrNotParticipant
	}

	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Username:  p.Username,
		Role:      p.Role,
		Body:      body,
		Timestamp: time.Now(),
	}
	r.chat = append(r.chat, msg)
	if over := len(r.chat) - r.chatRetention; over > 0 {
		r.chat = r.chat[over:]
	}
	r.broadcastLocked(Event{Type: EventChatMessage, Data: msg})
	return msg, nil
}

type typingPayload struct {
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// Typing relays a typing indicator to everyone but the typist. typing false
// clears a previously announced indicator.
func (r *Room) Typing(connID string, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return ErrNotParticipant
	}
	r.broadcastExceptLocked(connID, Event{Type: EventUserTyping, Data: typingPayload{Username: p.Username, Typing: typing}})
	return nil
}

// CreatePoll opens a poll. Teacher only. A positive autoCloseSeconds arms a
// timer that closes the poll if nobody has closed it manually by then.
func (r *Room) CreatePoll(connID, question string, options []string, autoCloseSeconds int) (domain.Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" || len(options) < 2 {
		return domain.Poll{}, ErrInvalidPoll
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireTeacherLocked(connID); err != nil {
		return domain.Poll{}, err
	}

	poll := &domain.Poll{
		ID:               uuid.NewString(),
		Question:         question,
		Voters:           make(map[string]string),
		Status:           domain.PollActive,
		CreatedAt:        time.Now(),
		AutoCloseSeconds: autoCloseSeconds,
	}
	for _, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			return domain.Poll{}, ErrInvalidPoll
		}
		poll.Options = append(poll.Options, domain.PollOption{ID: uuid.NewString(), Text: text})
	}
	r.polls[poll.ID] = poll

	if autoCloseSeconds > 0 {
		id := poll.ID
		r.pollTimers[id] = time.AfterFunc(time.Duration(autoCloseSeconds)*time.Second, func() {
			r.autoClosePoll(id)
		})
	}

	r.broadcastLocked(Event{Type: EventNewPoll, Data: *poll})
	return *poll, nil
}

// Vote records one vote per connection per poll and broadcasts the new tally.
func (r *Room) Vote(connID, pollID, optionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[connID]; !ok {
		return ErrNotParticipant
	}
	poll, ok := r.polls[pollID]
	if !ok {
		return ErrPollNotFound
	}
	if poll.Status != domain.PollActive {
		return ErrPollClosed
	}
	if _, voted := poll.Voters[connID]; voted {
		return ErrAlreadyVoted
	}

	idx := -1
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrInvalidOption
	}

	poll.Options[idx].VoteCount++
	poll.Voters[connID] = optionID
	r.broadcastLocked(Event{Type: EventPollUpdated, Data: *poll})
	return nil
}

// ClosePoll finalizes the poll. Teacher only; closing an already closed poll
// is a no-op.
func (r *Room) ClosePoll(connID, pollID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireTeacherLocked(connID); err != nil {
		return err
	}
	return r.closePollLocked(pollID)
}

func (r *Room) autoClosePoll(pollID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.closePollLocked(pollID)
}

func (r *Room) closePollLocked(pollID string) error {
	poll, ok := r.polls[pollID]
	if !ok {
		return ErrPollNotFound
	}
	if poll.Status == domain.PollClosed {
		return nil
	}
	poll.Status = domain.PollClosed
	if t, ok := r.pollTimers[pollID]; ok {
		t.Stop()
		delete(r.pollTimers, pollID)
	}
	r.broadcastLocked(Event{Type: EventPollClosed, Data: *poll})
	return nil
}

type handPayload struct {
	ConnectionID string             `json:"connectionId"`
	Username     string             `json:"username"`
	Position     int                `json:"position,omitempty"`
	Queue        []domain.HandRaise `json:"queue"`
}

// RaiseHand appends the participant to the hand queue. Raising an already
// raised hand is a no-op.
func (r *Room) RaiseHand(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return ErrNotParticipant
	}
	if p.HandRaised {
		return nil
	}
	p.HandRaised = true
	r.handQueue = append(r.handQueue, domain.HandRaise{
		ConnectionID: connID,
		Username:     p.Username,
		Timestamp:    time.Now(),
	})
	r.broadcastLocked(Event{Type: EventHandRaised, Data: handPayload{
		ConnectionID: connID,
		Username:     p.Username,
		Position:     len(r.handQueue),
		Queue:        r.queueSnapshotLocked(),
	}})
	return nil
}

// LowerHand removes target's hand from the queue; later hands keep their
// relative order. Students may lower only their own hand, the teacher anyone's.
func (r *Room) LowerHand(actorID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	actor, ok := r.participants[actorID]
	if !ok {
		return ErrNotParticipant
	}
	if actorID != targetID && actor.Role != domain.RoleTeacher {
		return ErrForbidden
	}
	target, ok := r.participants[targetID]
	if !ok || !target.HandRaised {
		return nil
	}
	target.HandRaised = false
	r.removeHandLocked(targetID)
	r.broadcastLocked(Event{Type: EventHandLowered, Data: handPayload{
		ConnectionID: targetID,
		Username:     target.Username,
		Queue:        r.queueSnapshotLocked(),
	}})
	return nil
}

// queueSnapshotLocked copies the hand queue for event payloads, so every
// hand-raised and hand-lowered event carries the resulting queue.
func (r *Room) queueSnapshotLocked() []domain.HandRaise {
	out := make([]domain.HandRaise, len(r.handQueue))
	copy(out, r.handQueue)
	return out
}

func (r *Room) removeHandLocked(connID string) {
	for i, h := range r.handQueue {
		if h.ConnectionID == connID {
			r.handQueue = append(r.handQueue[:i], r.handQueue[i+1:]...)
			return
		}
	}
}

// HandQueue returns the pending hands in raise order.
func (r *Room) HandQueue() []domain.HandRaise {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.HandRaise, len(r.handQueue))
	copy(out, r.handQueue)
	return out
}

// SetCodecPolicy updates the room's codec policy. Teacher only. The policy
// applies to the next publish; a running transcode is never reconfigured.
func (r *Room) SetCodecPolicy(connID string, policy domain.CodecPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireTeacherLocked(connID); err != nil {
		return err
	}
	r.policy = policy
	r.broadcastLocked(Event{Type: EventSettingsUpdated, Data: policy})
	return nil
}

// PolicySnapshot returns the codec policy at this instant. The orchestrator
// reads it once per publish.
func (r *Room) PolicySnapshot() domain.CodecPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

type streamEventPayload struct {
	StreamKey domain.StreamKey `json:"streamKey"`
	Codecs    []string         `json:"codecs,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// StreamStarted flips the room live and announces the playable codecs.
func (r *Room) StreamStarted(codecs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = true
	r.broadcastLocked(Event{Type: EventStreamStarted, Data: streamEventPayload{StreamKey: r.key, Codecs: codecs}})
}

// StreamEnded flips the room offline after a normal unpublish.
func (r *Room) StreamEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = false
	r.broadcastLocked(Event{Type: EventStreamEnded, Data: streamEventPayload{StreamKey: r.key}})
}

// StreamFailed flips the room offline after a transcoder crash.
func (r *Room) StreamFailed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = false
	r.broadcastLocked(Event{Type: EventStreamFailed, Data: streamEventPayload{StreamKey: r.key, Reason: reason}})
}

// Live reports whether a publisher is currently on air for this room.
func (r *Room) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Summary is the status-endpoint view of the room.
func (r *Room) Summary() domain.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, p := range r.polls {
		if p.Status == domain.PollActive {
			active++
		}
	}
	return domain.RoomSummary{
		StreamKey:    r.key,
		Participants: len(r.participants),
		Live:         r.live,
		ActivePolls:  active,
	}
}

func (r *Room) participantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// destroy stops poll timers and closes every remaining sender. Chat history
// and poll state die with the room.
func (r *Room) destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.pollTimers {
		t.Stop()
		delete(r.pollTimers, id)
	}
	for id, p := range r.participants {
		p.sender.Close()
		delete(r.participants, id)
	}
}

func (r *Room) requireTeacherLocked(connID string) error {
	p, ok := r.participants[connID]
	if !ok {
		return ErrNotParticipant
	}
	if p.Role != domain.RoleTeacher {
		return ErrForbidden
	}
	return nil
}

func (r *Room) stateLocked() roomState {
	st := roomState{
		StreamKey: r.key,
		Live:      r.live,
		Policy:    r.policy,
		Chat:      append([]domain.ChatMessage(nil), r.chat...),
		HandQueue: append([]domain.HandRaise(nil), r.handQueue...),
	}
	for _, p := range r.participants {
		st.Participants = append(st.Participants, p.Participant)
	}
	sort.Slice(st.Participants, func(i, j int) bool {
		return st.Participants[i].JoinedAt.Before(st.Participants[j].JoinedAt)
	})
	// Only active polls: closed polls were already announced via poll-closed
	// and stay around solely so late votes get a poll-closed error.
	for _, p := range r.polls {
		if p.Status != domain.PollActive {
			continue
		}
		st.Polls = append(st.Polls, *p)
	}
	sort.Slice(st.Polls, func(i, j int) bool {
		return st.Polls[i].CreatedAt.Before(st.Polls[j].CreatedAt)
	})
	return st
}

// broadcastLocked fans the event out under the room lock. A sender whose
// Send reports false is closed and its participant dropped.
func (r *Room) broadcastLocked(ev Event) {
	r.broadcastExceptLocked("", ev)
}

func (r *Room) broadcastExceptLocked(skipID string, ev Event) {
	var dropped []string
	for id, p := range r.participants {
		if id == skipID {
			continue
		}
		if !p.sender.Send(ev) {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		r.dropLocked(id)
	}
}

func (r *Room) dropLocked(connID string) {
	p, ok := r.participants[connID]
	if !ok {
		return
	}
	if r.logger != nil {
		r.logger.Warn("dropping slow room participant",
			slog.String("streamKey", string(r.key)),
			slog.String("connectionId", connID),
			slog.String("username", p.Username),
		)
	}
	p.sender.Close()
	// Delete before broadcasting so the dead sender cannot re-enter the
	// drop path.
	delete(r.participants, connID)
	if p.HandRaised {
		r.removeHandLocked(connID)
		r.broadcastExceptLocked("", Event{Type: EventHandLowered, Data: handPayload{
			ConnectionID: connID,
			Username:     p.Username,
			Queue:        r.queueSnapshotLocked(),
		}})
	}
	if r.onDrop != nil {
		r.onDrop()
	}
	r.broadcastExceptLocked("", Event{Type: EventParticipantLeft, Data: p.Participant})
}
