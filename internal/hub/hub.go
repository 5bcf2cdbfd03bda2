package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"collaborative-doc-sync/internal/engine"
	"collaborative-doc-sync/internal/presence"
	"collaborative-doc-sync/internal/protocol"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by operations attempted after Shutdown.
var ErrClosed = errors.New("hub is shut down")

// CommitFunc is called after every committed snapshot, from the room
// goroutine of the document. It must not block.
type CommitFunc func(snap protocol.Snapshot)

type Config struct {
	SendBuffer      int
	MaxMessageBytes int64
	OpTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	return c
}

// Hub routes sessions into per-document rooms. A room is an actor: one
// goroutine that owns the member set and runs every join, leave, edit and
// cursor update for its document in arrival order. Rooms exist while at
// least one reference is held and stop when the last one is released.
type Hub struct {
	engine   *engine.Engine[json.RawMessage]
	presence *presence.Table
	cfg      Config

	mu       sync.Mutex
	rooms    map[string]*room
	sessions map[*Session]struct{}
	closed   bool
	onCommit CommitFunc
	roomsWG  sync.WaitGroup
}

func New(eng *engine.Engine[json.RawMessage], table *presence.Table, cfg Config) *Hub {
	return &Hub{
		engine:   eng,
		presence: table,
		cfg:      cfg.withDefaults(),
		rooms:    make(map[string]*room),
		sessions: make(map[*Session]struct{}),
	}
}

// SetCommitHook registers fn to be told about every commit, whichever path
// it came through.
func (h *Hub) SetCommitHook(fn CommitFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCommit = fn
}

func (h *Hub) committed(snap protocol.Snapshot) {
	h.mu.Lock()
	fn := h.onCommit
	h.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// acquire returns the room for documentID, starting it if needed, with one
// more reference held by the caller. A room that is still draining after
// its last release is waited out first, so a document never has two rooms.
// It must not be called from a room goroutine.
func (h *Hub) acquire(documentID string) (*room, error) {
	h.mu.Lock()
	for {
		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		r, ok := h.rooms[documentID]
		if ok && r.closing {
			h.mu.Unlock()
			<-r.done
			h.mu.Lock()
			continue
		}
		if !ok {
			r = newRoom(h, documentID)
			h.rooms[documentID] = r
			h.roomsWG.Add(1)
			go h.runRoom(r)
		}
		r.refs++
		h.mu.Unlock()
		return r, nil
	}
}

// runRoom drains the room and only then forgets it.
func (h *Hub) runRoom(r *room) {
	defer h.roomsWG.Done()
	r.run()

	h.mu.Lock()
	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
	}
	h.mu.Unlock()
	close(r.done)
	log.Debug().Str("document_id", r.id).Msg("room stopped")
}

// acquireExisting is acquire without starting a room.
func (h *Hub) acquireExisting(documentID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[documentID]
	if !ok || r.closing {
		return nil
	}
	r.refs++
	return r
}

func (h *Hub) retain(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.refs++
}

// release drops one reference. The room's inbox is closed with the last
// one; everything already queued still runs, and the room stays registered
// as closing until it has.
func (h *Hub) release(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.refs--
	if r.refs > 0 {
		return
	}
	r.closing = true
	close(r.inbox)
}

func (h *Hub) register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.sessions[s] = struct{}{}
	return nil
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// Disconnect leaves every room the session joined and drops its presence.
// It is safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	s.disconnectOnce.Do(func() {
		s.close()
		for documentID, r := range s.takeRooms() {
			h.leaveRoom(s, documentID, r)
		}
		h.unregister(s)
		log.Info().Str("conn_id", s.id).Uint64("user_id", s.userID).Msg("session disconnected")
	})
}

// ProposeEdit runs a proposal that did not come from a room member, such as
// a REST save. A commit is broadcast as doc:update to the whole room.
func (h *Hub) ProposeEdit(ctx context.Context, documentID string, userID uint64, content json.RawMessage, baseVersion uint64) (engine.Result[json.RawMessage], error) {
	r, err := h.acquire(documentID)
	if err != nil {
		return engine.Result[json.RawMessage]{}, err
	}
	defer h.release(r)

	type outcome struct {
		res engine.Result[json.RawMessage]
		err error
	}
	done := make(chan outcome, 1)
	r.submit(func() {
		opCtx, cancel := h.opContext()
		defer cancel()
		res, err := h.engine.ProposeEdit(opCtx, documentID, content, baseVersion, userID)
		if err == nil && res.Committed {
			r.broadcast(protocol.MustEncode(protocol.EventUpdate, res.Snapshot), nil)
			h.committed(res.Snapshot)
		}
		done <- outcome{res: res, err: err}
	})

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return engine.Result[json.RawMessage]{}, ctx.Err()
	}
}

// BroadcastTitle tells every member of the document's room about a rename.
// Nothing is sent when nobody is connected.
func (h *Hub) BroadcastTitle(documentID, title string) {
	r := h.acquireExisting(documentID)
	if r == nil {
		return
	}
	defer h.release(r)
	r.submit(func() {
		r.broadcast(protocol.MustEncode(protocol.EventTitle, protocol.TitlePayload{
			DocumentID: documentID,
			Title:      title,
		}), nil)
	})
}

func (h *Hub) Presence(documentID string) []presence.Entry {
	return h.presence.List(documentID)
}

// RoomCount reports the number of rooms, draining ones included.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.cfg.OpTimeout)
}

// Shutdown disconnects every session and waits for the rooms to drain.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.Disconnect(s)
	}

	drained := make(chan struct{})
	go func() {
		h.roomsWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info().Int("sessions", len(sessions)).Msg("hub stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
