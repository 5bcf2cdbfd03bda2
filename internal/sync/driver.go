// Package sync is the client side of document synchronization: a per-document
// reconciliation driver, a websocket client that feeds it, and a REST client
// for the document API.
package sync

import (
	"fmt"
	"sync"

	"collaborative-doc-sync/internal/engine"
)

// State is where a driver stands with respect to its own edits.
type State int

const (
	// Idle has nothing in flight. Remote updates are applied as they come.
	Idle State = iota
	// EditInFlight has sent one proposal and is waiting for ack or reject.
	EditInFlight
	// EditInFlightWithQueuedEdit also holds the latest unsent local content.
	EditInFlightWithQueuedEdit
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case EditInFlight:
		return "edit-in-flight"
	case EditInFlightWithQueuedEdit:
		return "edit-in-flight-with-queued-edit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sender puts an edit proposal on the wire.
type Sender[C any] interface {
	SendEdit(documentID string, content C, baseVersion uint64) error
}

type NoticeKind int

const (
	// NoticeSynced means local work was replaced by the server state.
	NoticeSynced NoticeKind = iota
	// NoticeError carries a doc:error message.
	NoticeError
)

type Notice[C any] struct {
	Kind    NoticeKind
	Message string
	Current engine.Snapshot[C]
}

type Option[C any] func(*Driver[C])

// OnApply sets the callback that replaces the editor content with a
// server-provided snapshot. LocalEdit calls made from inside it are ignored.
func OnApply[C any](fn func(engine.Snapshot[C])) Option[C] {
	return func(d *Driver[C]) { d.apply = fn }
}

// OnNotice sets the callback for user-facing notices.
func OnNotice[C any](fn func(Notice[C])) Option[C] {
	return func(d *Driver[C]) { d.notice = fn }
}

// Driver reconciles one document's local edits with the server. At most one
// proposal is in flight; later local edits collapse into a single queued
// one, and remote updates arriving meanwhile are held back until the
// driver is idle again.
//
// Callbacks run without the driver lock held.
type Driver[C any] struct {
	documentID string
	sender     Sender[C]
	apply      func(engine.Snapshot[C])
	notice     func(Notice[C])

	mu           sync.Mutex
	ready        bool
	state        State
	version      uint64
	title        string
	content      C
	queued       *C
	buffered     *engine.Snapshot[C]
	lastRejected *C
	applying     bool
}

func NewDriver[C any](documentID string, sender Sender[C], opts ...Option[C]) *Driver[C] {
	d := &Driver[C]{
		documentID: documentID,
		sender:     sender,
		apply:      func(engine.Snapshot[C]) {},
		notice:     func(Notice[C]) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// effects are the callbacks a transition decided on, run after unlocking.
type effects[C any] struct {
	apply  *engine.Snapshot[C]
	notice *Notice[C]
}

func (d *Driver[C]) run(fx effects[C]) {
	if fx.apply != nil {
		d.mu.Lock()
		d.applying = true
		d.mu.Unlock()

		d.apply(*fx.apply)

		d.mu.Lock()
		d.applying = false
		d.mu.Unlock()
	}
	if fx.notice != nil {
		d.notice(*fx.notice)
	}
}

// adopt makes snap the local state. Caller holds d.mu.
func (d *Driver[C]) adopt(snap engine.Snapshot[C]) {
	d.version = snap.Version
	d.title = snap.Title
	d.content = snap.Content
}

func (d *Driver[C]) DocumentID() string { return d.documentID }

func (d *Driver[C]) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Version is the base version the next proposal will carry.
func (d *Driver[C]) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

func (d *Driver[C]) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

// Content is the latest local content, committed or not.
func (d *Driver[C]) Content() C {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

// LastRejected is the local content most recently thrown away by a resync,
// kept so the user can apply it again.
func (d *Driver[C]) LastRejected() (C, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastRejected == nil {
		var zero C
		return zero, false
	}
	return *d.lastRejected, true
}

// Applying reports whether a server snapshot is being applied right now.
func (d *Driver[C]) Applying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applying
}

// Init handles doc:init. Anything pending from before is superseded by the
// server state; unacknowledged local content is kept as LastRejected.
func (d *Driver[C]) Init(snap engine.Snapshot[C]) {
	d.mu.Lock()
	var fx effects[C]
	if d.state != Idle {
		pending := d.content
		d.lastRejected = &pending
		fx.notice = &Notice[C]{Kind: NoticeSynced, Message: "synced to latest", Current: snap}
	}
	d.ready = true
	d.state = Idle
	d.queued = nil
	d.buffered = nil
	d.adopt(snap)
	fx.apply = &snap
	d.mu.Unlock()

	d.run(fx)
}

// LocalEdit records new local content and proposes it if nothing is in
// flight. Edits made while a server snapshot is applied are ignored and
// report false.
func (d *Driver[C]) LocalEdit(content C) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.applying {
		return false, nil
	}
	if !d.ready {
		return false, fmt.Errorf("document %s: edit before init", d.documentID)
	}
	d.content = content

	switch d.state {
	case Idle:
		if err := d.sender.SendEdit(d.documentID, content, d.version); err != nil {
			return false, fmt.Errorf("send edit: %w", err)
		}
		d.state = EditInFlight
	case EditInFlight, EditInFlightWithQueuedEdit:
		queued := content
		d.queued = &queued
		d.state = EditInFlightWithQueuedEdit
	}
	return true, nil
}

// HandleAck handles doc:ack for the proposal in flight.
func (d *Driver[C]) HandleAck(snap engine.Snapshot[C]) error {
	d.mu.Lock()
	if d.state == Idle {
		d.mu.Unlock()
		return nil
	}

	d.version = snap.Version
	d.title = snap.Title
	if d.buffered != nil && d.buffered.Version <= snap.Version {
		d.buffered = nil
	}

	if d.state == EditInFlightWithQueuedEdit {
		queued := *d.queued
		d.queued = nil
		if err := d.sender.SendEdit(d.documentID, queued, d.version); err != nil {
			d.state = Idle
			d.mu.Unlock()
			return fmt.Errorf("send queued edit: %w", err)
		}
		d.state = EditInFlight
		d.mu.Unlock()
		return nil
	}

	d.state = Idle
	d.content = snap.Content
	var fx effects[C]
	if d.buffered != nil {
		remote := *d.buffered
		d.buffered = nil
		d.adopt(remote)
		fx.apply = &remote
	}
	d.mu.Unlock()

	d.run(fx)
	return nil
}

// HandleUpdate handles doc:update. Updates not newer than what the driver
// already holds are dropped.
func (d *Driver[C]) HandleUpdate(snap engine.Snapshot[C]) {
	d.mu.Lock()
	if !d.ready || snap.Version <= d.version {
		d.mu.Unlock()
		return
	}
	if d.state != Idle {
		if d.buffered == nil || snap.Version > d.buffered.Version {
			d.buffered = &snap
		}
		d.mu.Unlock()
		return
	}
	d.adopt(snap)
	d.mu.Unlock()

	d.run(effects[C]{apply: &snap})
}

// HandleReject handles doc:reject: the server state wins and any queued
// edit is dropped. The rejected content stays available via LastRejected.
func (d *Driver[C]) HandleReject(current engine.Snapshot[C]) {
	d.mu.Lock()
	local := d.content
	d.lastRejected = &local
	d.state = Idle
	d.queued = nil
	d.buffered = nil
	d.adopt(current)
	d.mu.Unlock()

	d.run(effects[C]{
		apply:  &current,
		notice: &Notice[C]{Kind: NoticeSynced, Message: "synced to latest", Current: current},
	})
}

// HandleEditError handles a doc:error answering this driver's doc:edit. The
// slot is freed and the local content kept so the next edit carries it
// again, unless a newer remote snapshot was held back meanwhile: that one
// is applied and the local content moves to LastRejected.
func (d *Driver[C]) HandleEditError(message string) {
	d.mu.Lock()
	if d.state == Idle {
		d.mu.Unlock()
		d.HandleError(message)
		return
	}
	d.state = Idle
	d.queued = nil

	fx := effects[C]{notice: &Notice[C]{Kind: NoticeError, Message: message}}
	if d.buffered != nil && d.buffered.Version > d.version {
		remote := *d.buffered
		local := d.content
		d.lastRejected = &local
		d.adopt(remote)
		fx.apply = &remote
		fx.notice.Current = remote
	}
	d.buffered = nil
	d.mu.Unlock()

	d.run(fx)
}

// HandleError handles any other doc:error for the document, such as a
// failed re-join. An edit in flight stays in flight.
func (d *Driver[C]) HandleError(message string) {
	d.run(effects[C]{notice: &Notice[C]{Kind: NoticeError, Message: message}})
}

// HandleTitle handles doc:title. The version is unaffected by renames.
func (d *Driver[C]) HandleTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.title = title
}
