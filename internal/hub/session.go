package hub

import (
	"context"
	"encoding/json"
	"sync"

	"collaborative-doc-sync/internal/protocol"
	"collaborative-doc-sync/internal/telemetry"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var validate = validator.New()

type proposal struct {
	content     json.RawMessage
	baseVersion uint64
}

// editSlot is the session's backpressure state for one document: at most
// one proposal in the room queue, and one more waiting behind it.
type editSlot struct {
	inFlight bool
	queued   *proposal
}

// Session is one live connection. Outgoing frames go through send; a
// session whose buffer is full is disconnected rather than skipped, so
// nobody silently misses a version. A dropped client has to reconnect and
// join again: doc:init is its only way back to the current state.
type Session struct {
	id     string
	userID uint64
	name   string
	hub    *Hub

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	disconnectOnce sync.Once

	mu    sync.Mutex
	rooms map[string]*room
	slots map[string]*editSlot
}

// NewSession registers a session for an authenticated user.
func (h *Hub) NewSession(userID uint64, name string) (*Session, error) {
	s := &Session{
		id:     uuid.NewString(),
		userID: userID,
		name:   name,
		hub:    h,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]*room),
		slots:  make(map[string]*editSlot),
	}
	if err := h.register(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() uint64 { return s.userID }

// Outbound is the stream of frames to write to the connection.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed once the session is finished.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) deliver(msg []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- msg:
	default:
		log.Warn().Str("conn_id", s.id).Msg("send buffer full, dropping connection")
		s.close()
		go s.hub.Disconnect(s)
	}
}

func (s *Session) sendError(documentID, event string, err error) {
	log.Warn().Err(err).Str("document_id", documentID).Str("event", event).Str("conn_id", s.id).Msg("document operation failed")
	s.deliver(errorFrame(documentID, event, errorMessage(err)))
}

// claimRoom records the subscription, taking a reference on r for it. It
// reports false when the session already holds one for the document.
func (s *Session) claimRoom(documentID string, r *room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[documentID]; ok {
		return false
	}
	s.hub.retain(r)
	s.rooms[documentID] = r
	return true
}

// hold returns the subscribed room for documentID with an extra reference
// the caller must release, or nil when the session is not subscribed.
func (s *Session) hold(documentID string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[documentID]
	if r != nil {
		s.hub.retain(r)
	}
	return r
}

func (s *Session) roomFor(documentID string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[documentID]
}

// forgetRoom removes the subscription if it still points at r. Whoever gets
// true back owns releasing the reference.
func (s *Session) forgetRoom(documentID string, r *room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[documentID] != r {
		return false
	}
	delete(s.rooms, documentID)
	return true
}

func (s *Session) takeRooms() map[string]*room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := s.rooms
	s.rooms = make(map[string]*room)
	return rooms
}

// enqueue reports whether p should be submitted now. When an edit is
// already in flight p replaces any queued edit instead.
func (s *Session) enqueue(documentID string, p proposal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[documentID]
	if !ok {
		slot = &editSlot{}
		s.slots[documentID] = slot
	}
	if slot.inFlight {
		slot.queued = &p
		return false
	}
	slot.inFlight = true
	return true
}

func (s *Session) nextQueued(documentID string) (proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[documentID]
	if !ok {
		return proposal{}, false
	}
	if slot.queued == nil {
		slot.inFlight = false
		return proposal{}, false
	}
	p := *slot.queued
	slot.queued = nil
	return p, true
}

func (s *Session) dropSlot(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, documentID)
}

// Handle dispatches one inbound frame.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		s.deliver(errorFrame("", "", "malformed message"))
		return
	}

	_, span := telemetry.StartSpan(ctx, "Session.Handle",
		attribute.String("event", env.Event),
		attribute.String("conn.id", s.id),
	)
	defer span.End()

	switch env.Event {
	case protocol.EventJoinDocument:
		var p protocol.JoinPayload
		if !s.bind(env, &p) {
			return
		}
		s.join(p.DocumentID)
	case protocol.EventLeaveDocument:
		var p protocol.JoinPayload
		if !s.bind(env, &p) {
			return
		}
		s.leave(p.DocumentID)
	case protocol.EventEdit:
		var p protocol.EditPayload
		if !s.bind(env, &p) {
			return
		}
		s.edit(p.DocumentID, proposal{content: p.Content, baseVersion: uint64(*p.BaseVersion)})
	case protocol.EventCursorUpdate:
		var p protocol.CursorPayload
		if !s.bind(env, &p) {
			return
		}
		s.cursor(p)
	case protocol.EventPing:
		s.deliver(protocol.MustEncode(protocol.EventPong, struct{}{}))
	default:
		log.Debug().Str("event", env.Event).Str("conn_id", s.id).Msg("unknown event")
		s.deliver(errorFrame("", env.Event, "unknown event "+env.Event))
	}
}

// bind decodes and validates a payload, answering malformed input before any
// document state is read.
func (s *Session) bind(env protocol.Envelope, dst any) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		s.deliver(errorFrame("", env.Event, "malformed "+env.Event+" payload"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		s.deliver(errorFrame(documentIDOf(dst), env.Event, "malformed "+env.Event+" payload"))
		return false
	}
	return true
}

func documentIDOf(payload any) string {
	switch p := payload.(type) {
	case *protocol.JoinPayload:
		return p.DocumentID
	case *protocol.EditPayload:
		return p.DocumentID
	case *protocol.CursorPayload:
		return p.DocumentID
	}
	return ""
}

func (s *Session) join(documentID string) {
	if r := s.hold(documentID); r != nil {
		// Already subscribed: the room resends the current state.
		r.submit(func() { r.join(s) })
		s.hub.release(r)
		return
	}

	r, err := s.hub.acquire(documentID)
	if err != nil {
		s.sendError(documentID, protocol.EventJoinDocument, err)
		return
	}
	defer s.hub.release(r)
	if !s.claimRoom(documentID, r) {
		return
	}
	r.submit(func() { r.join(s) })
}

func (s *Session) leave(documentID string) {
	r := s.roomFor(documentID)
	if r == nil {
		return
	}
	if s.forgetRoom(documentID, r) {
		s.hub.leaveRoom(s, documentID, r)
	}
}

func (s *Session) edit(documentID string, p proposal) {
	r := s.hold(documentID)
	if r == nil {
		s.deliver(errorFrame(documentID, protocol.EventEdit, "join the document before editing"))
		return
	}
	defer s.hub.release(r)
	if !s.enqueue(documentID, p) {
		return
	}
	r.submit(func() { r.propose(s, p) })
}

func (s *Session) cursor(p protocol.CursorPayload) {
	r := s.hold(p.DocumentID)
	if r == nil {
		return
	}
	defer s.hub.release(r)
	cursor := p.CursorRange
	r.submit(func() { r.moveCursor(s, cursor) })
}

// leaveRoom queues the leave on the room and gives up the session's reference.
func (h *Hub) leaveRoom(s *Session, documentID string, r *room) {
	r.submit(func() { r.leave(s) })
	h.release(r)
	log.Debug().Str("document_id", documentID).Str("conn_id", s.id).Msg("subscription released")
}
