package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classcast/internal/domain"
	"classcast/internal/metrics"
	"classcast/internal/room"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsCommand is a client-to-server message. Data is decoded per command type.
type wsCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinCommand struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type chatCommand struct {
	Body string `json:"body"`
}

type typingCommand struct {
	Typing bool `json:"typing"`
}

type createPollCommand struct {
	Question         string   `json:"question"`
	Options          []string `json:"options"`
	AutoCloseSeconds int      `json:"autoCloseSeconds"`
}

type voteCommand struct {
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
}

type closePollCommand struct {
	PollID string `json:"pollId"`
}

type lowerHandCommand struct {
	ConnectionID string `json:"connectionId"`
}

type policyCommand struct {
	SecondaryCodecEnabled bool `json:"secondaryCodecEnabled"`
}

// wsClient is one participant connection. It implements room.Sender: Send
// never blocks, it queues on the send channel and reports false when the
// channel is full, after which the room drops this participant.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan room.Event
	room   *room.Room
	rooms  *room.Registry
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(ev room.Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := domain.StreamKey(strings.TrimSpace(r.URL.Query().Get("key")))
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key query parameter is required")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan room.Event, 256),
		rooms:  s.rooms,
		logger: s.logger,
		closed: make(chan struct{}),
	}
	go client.writePump()
	go client.readPump(key)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(key domain.StreamKey) {
	defer func() {
		if c.room != nil {
			c.room.Leave(c.id)
			c.rooms.Release(key)
		}
		c.Close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(8 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var cmd wsCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if done := c.dispatch(key, cmd); done {
			return
		}
	}
}

// dispatch routes one command. Returns true when the connection should end.
// The first command must be join; everything else before it is rejected.
func (c *wsClient) dispatch(key domain.StreamKey, cmd wsCommand) bool {
	if c.room == nil {
		if cmd.Type != "join" {
			c.sendError("not_joined", "join the room first")
			return false
		}
		var join joinCommand
		if err := json.Unmarshal(cmd.Data, &join); err != nil || strings.TrimSpace(join.Username) == "" {
			c.sendError("invalid_request", "join requires a username")
			return true
		}
		c.room, _ = c.rooms.Join(key, c, strings.TrimSpace(join.Username), domain.ParseRole(join.Role))
		return false
	}

	switch cmd.Type {
	case "join":
		c.sendError("already_joined", "already in the room")
	case "leave":
		return true
	case "chat":
		var chat chatCommand
		if err := json.Unmarshal(cmd.Data, &chat); err != nil {
			c.sendError("invalid_request", "malformed chat command")
			return false
		}
		if _, err := c.room.Chat(c.id, chat.Body); err != nil {
			c.sendRoomError(err)
			return false
		}
		metrics.ChatMessagesTotal.Inc()
	case "typing":
		var typing typingCommand
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &typing); err != nil {
				c.sendError("invalid_request", "malformed typing command")
				return false
			}
		}
		if err := c.room.Typing(c.id, typing.Typing); err != nil {
			c.sendRoomError(err)
		}
	case "create-poll":
		var poll createPollCommand
		if err := json.Unmarshal(cmd.Data, &poll); err != nil {
			c.sendError("invalid_request", "malformed create-poll command")
			return false
		}
		if _, err := c.room.CreatePoll(c.id, poll.Question, poll.Options, poll.AutoCloseSeconds); err != nil {
			c.sendRoomError(err)
		}
	case "vote":
		var vote voteCommand
		if err := json.Unmarshal(cmd.Data, &vote); err != nil {
			c.sendError("invalid_request", "malformed vote command")
			return false
		}
		if err := c.room.Vote(c.id, vote.PollID, vote.OptionID); err != nil {
			c.sendRoomError(err)
			return false
		}
		metrics.PollVotesTotal.Inc()
	case "close-poll":
		var closeCmd closePollCommand
		if err := json.Unmarshal(cmd.Data, &closeCmd); err != nil {
			c.sendError("invalid_request", "malformed close-poll command")
			return false
		}
		if err := c.room.ClosePoll(c.id, closeCmd.PollID); err != nil {
			c.sendRoomError(err)
		}
	case "raise-hand":
		if err := c.room.RaiseHand(c.id); err != nil {
			c.sendRoomError(err)
		}
	case "lower-hand":
		var lower lowerHandCommand
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &lower); err != nil {
				c.sendError("invalid_request", "malformed lower-hand command")
				return false
			}
		}
		target := lower.ConnectionID
		if target == "" {
			target = c.id
		}
		if err := c.room.LowerHand(c.id, target); err != nil {
			c.sendRoomError(err)
		}
	case "set-codec-policy":
		var policy policyCommand
		if err := json.Unmarshal(cmd.Data, &policy); err != nil {
			c.sendError("invalid_request", "malformed set-codec-policy command")
			return false
		}
		if err := c.room.SetCodecPolicy(c.id, domain.CodecPolicy{SecondaryCodecEnabled: policy.SecondaryCodecEnabled}); err != nil {
			c.sendRoomError(err)
		}
	default:
		c.logger.Info("unknown ws command", slog.String("type", cmd.Type))
	}
	return false
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *wsClient) sendError(code, message string) {
	c.Send(room.Event{Type: "error", Data: wsErrorPayload{Code: code, Message: message}})
}

func (c *wsClient) sendRoomError(err error) {
	switch {
	case err == room.ErrForbidden:
		c.sendError("forbidden", err.Error())
	case err == room.ErrNotParticipant:
		c.sendError("not_joined", err.Error())
	case err == room.ErrPollNotFound:
		c.sendError("not_found", err.Error())
	default:
		c.sendError("invalid_request", err.Error())
	}
}
