package hub

import (
	"errors"

	"collaborative-doc-sync/internal/engine"
	"collaborative-doc-sync/internal/presence"
	"collaborative-doc-sync/internal/protocol"
	"collaborative-doc-sync/internal/telemetry"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const inboxSize = 256

// room is the actor for one document. members is only touched from run.
type room struct {
	id      string
	hub     *Hub
	inbox   chan func()
	members map[*Session]struct{}

	refs    int  // guarded by hub.mu
	closing bool // guarded by hub.mu
	done    chan struct{}
}

func newRoom(h *Hub, documentID string) *room {
	return &room{
		id:      documentID,
		hub:     h,
		inbox:   make(chan func(), inboxSize),
		members: make(map[*Session]struct{}),
		done:    make(chan struct{}),
	}
}

func (r *room) run() {
	log.Debug().Str("document_id", r.id).Msg("room started")
	for fn := range r.inbox {
		fn()
	}
}

// submit queues fn on the room goroutine. The caller must hold a reference.
func (r *room) submit(fn func()) {
	r.inbox <- fn
}

// broadcast delivers msg to every member except skip.
func (r *room) broadcast(msg []byte, skip *Session) {
	for s := range r.members {
		if s == skip {
			continue
		}
		s.deliver(msg)
	}
}

func (r *room) broadcastPresence() {
	r.broadcast(r.presenceFrame(), nil)
}

func (r *room) presenceFrame() []byte {
	return protocol.MustEncode(protocol.EventPresenceUpdate, protocol.PresencePayload{
		DocumentID: r.id,
		Users:      r.hub.presence.List(r.id),
	})
}

// join runs on the room goroutine. A failed join tears the subscription
// down again; an already-member session just gets the current state resent.
func (r *room) join(s *Session) {
	ctx, cancel := r.hub.opContext()
	defer cancel()

	snap, access, err := r.hub.engine.Join(ctx, r.id, s.userID)
	if err != nil {
		s.sendError(r.id, protocol.EventJoinDocument, err)
		if _, member := r.members[s]; member && !errors.Is(err, engine.ErrNotFound) {
			return
		}
		r.leave(s)
		if s.forgetRoom(r.id, r) {
			r.hub.release(r)
		}
		return
	}

	r.members[s] = struct{}{}
	changed := r.hub.presence.Add(r.id, s.userID, s.id, presence.DisplayInfo{Name: s.name})

	s.deliver(protocol.MustEncode(protocol.EventInit, snap))
	if changed {
		r.broadcastPresence()
	} else {
		s.deliver(r.presenceFrame())
	}
	s.deliver(protocol.MustEncode(protocol.EventJoinAck, protocol.JoinPayload{DocumentID: r.id}))

	log.Info().
		Str("document_id", r.id).
		Str("conn_id", s.id).
		Uint64("user_id", s.userID).
		Str("access", access.String()).
		Uint64("version", snap.Version).
		Msg("joined document")
}

func (r *room) leave(s *Session) {
	if _, ok := r.members[s]; !ok {
		return
	}
	delete(r.members, s)
	s.dropSlot(r.id)
	if r.hub.presence.Remove(r.id, s.id) {
		r.broadcastPresence()
	}
	log.Info().Str("document_id", r.id).Str("conn_id", s.id).Msg("left document")
}

// propose runs p and then every edit the session queued behind it, one at
// a time, until the slot is empty.
func (r *room) propose(s *Session, p proposal) {
	for {
		r.commit(s, p)
		next, ok := s.nextQueued(r.id)
		if !ok {
			return
		}
		p = next
	}
}

func (r *room) commit(s *Session, p proposal) {
	ctx, cancel := r.hub.opContext()
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "Room.Commit",
		attribute.String("document.id", r.id),
		attribute.String("conn.id", s.id),
	)
	defer span.End()

	if _, ok := r.members[s]; !ok {
		s.deliver(errorFrame(r.id, protocol.EventEdit, "join the document before editing"))
		return
	}

	res, err := r.hub.engine.ProposeEdit(ctx, r.id, p.content, p.baseVersion, s.userID)
	if err != nil {
		telemetry.AddSpanError(ctx, err)
		s.sendError(r.id, protocol.EventEdit, err)
		return
	}
	if !res.Committed {
		s.deliver(protocol.MustEncode(protocol.EventReject, protocol.RejectPayload{
			Reason:  protocol.RejectReasonStale,
			Current: res.Snapshot,
		}))
		return
	}

	s.deliver(protocol.MustEncode(protocol.EventAck, res.Snapshot))
	r.broadcast(protocol.MustEncode(protocol.EventUpdate, res.Snapshot), s)
	r.hub.committed(res.Snapshot)
}

func (r *room) moveCursor(s *Session, cursor *presence.CursorRange) {
	if _, ok := r.members[s]; !ok {
		return
	}
	if !r.hub.presence.UpdateCursor(r.id, s.userID, cursor) {
		return
	}
	r.broadcast(protocol.MustEncode(protocol.EventCursorUpdate, protocol.CursorPayload{
		DocumentID:  r.id,
		UserID:      s.userID,
		CursorRange: cursor,
	}), s)
	r.broadcastPresence()
}

// errorFrame answers the request named by event.
func errorFrame(documentID, event, message string) []byte {
	return protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{
		Message:    message,
		DocumentID: documentID,
		Event:      event,
	})
}

// errorMessage is what a client is told for err. Infrastructure failures
// are not described beyond a generic message.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return "document not found"
	case errors.Is(err, engine.ErrForbidden):
		return "access denied"
	case errors.Is(err, engine.ErrInvalidProposal):
		return "invalid request"
	default:
		return "internal error"
	}
}
