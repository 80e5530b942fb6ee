package room

import (
	"log/slog"
	"sort"
	"sync"

	"classcast/internal/domain"
	"classcast/internal/metrics"
)

// Registry owns the rooms, one per stream key. Rooms are created lazily on
// the first join or publish and destroyed once the last participant leaves
// and no publisher is live.
type Registry struct {
	chatRetention int
	logger        *slog.Logger

	mu    sync.Mutex
	rooms map[domain.StreamKey]*Room
}

func NewRegistry(chatRetention int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		chatRetention: chatRetention,
		logger:        logger,
		rooms:         make(map[domain.StreamKey]*Room),
	}
}

// GetOrCreate returns the room for key, creating it if needed.
func (g *Registry) GetOrCreate(key domain.StreamKey) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(key)
}

func (g *Registry) getOrCreateLocked(key domain.StreamKey) *Room {
	r, ok := g.rooms[key]
	if !ok {
		r = newRoom(key, g.chatRetention, g.logger, func() {
			metrics.WSDroppedClientsTotal.Inc()
		})
		g.rooms[key] = r
		g.logger.Info("room created", slog.String("streamKey", string(key)))
	}
	return r
}

// Join places the sender into the room for key, creating the room if needed.
// Lookup and join happen under the registry lock, so a concurrent Release
// cannot destroy the room between them and strand the joiner.
func (g *Registry) Join(key domain.StreamKey, sender Sender, username string, role domain.Role) (*Room, domain.Participant) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.getOrCreateLocked(key)
	return r, r.Join(sender, username, role)
}

// Get returns the room for key if it exists.
func (g *Registry) Get(key domain.StreamKey) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[key]
	return r, ok
}

// CodecPolicy returns the room's current codec policy, or the default when
// no room exists for the key yet.
func (g *Registry) CodecPolicy(key domain.StreamKey) domain.CodecPolicy {
	g.mu.Lock()
	r, ok := g.rooms[key]
	g.mu.Unlock()
	if !ok {
		return domain.CodecPolicy{}
	}
	return r.PolicySnapshot()
}

// Release destroys the room when it is empty and its stream is offline.
// Transports call it after every disconnect; it is safe to call any time.
func (g *Registry) Release(key domain.StreamKey) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[key]
	if !ok {
		return
	}
	if r.participantCount() > 0 || r.Live() {
		return
	}
	r.destroy()
	delete(g.rooms, key)
	g.logger.Info("room destroyed", slog.String("streamKey", string(key)))
}

// StreamStarted marks the key live, creating the room if nobody has joined
// yet so that early joiners and the publisher converge on the same room.
// Runs under the registry lock so a concurrent Release cannot destroy the
// room before it goes live.
func (g *Registry) StreamStarted(key domain.StreamKey, codecs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getOrCreateLocked(key).StreamStarted(codecs)
}

// StreamEnded marks the key offline and releases the room if it is empty.
func (g *Registry) StreamEnded(key domain.StreamKey) {
	if r, ok := g.Get(key); ok {
		r.StreamEnded()
	}
	g.Release(key)
}

// StreamFailed marks the key offline after a transcoder crash.
func (g *Registry) StreamFailed(key domain.StreamKey, reason string) {
	if r, ok := g.Get(key); ok {
		r.StreamFailed(reason)
	}
	g.Release(key)
}

// Summaries lists every open room, ordered by stream key.
func (g *Registry) Summaries() []domain.RoomSummary {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}

// Counts reports open rooms and connected participants for the gauges.
func (g *Registry) Counts() (rooms, participants int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.rooms {
		participants += r.participantCount()
	}
	return len(g.rooms), participants
}
