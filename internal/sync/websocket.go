package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"collaborative-doc-sync/internal/presence"
	"collaborative-doc-sync/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// ErrClientClosed is returned by writes after Close.
var ErrClientClosed = errors.New("sync client closed")

// WSClient is one websocket connection to the sync server. It routes
// incoming frames to the driver of each open document and implements
// Sender for them.
type WSClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool

	mu         sync.Mutex
	drivers    map[string]*Driver[json.RawMessage]
	onPresence func(protocol.PresencePayload)
	onCursor   func(protocol.CursorPayload)
}

// Dial connects to a websocket URL such as ws://host/ws, authenticating
// with token.
func Dial(ctx context.Context, url, token string) (*WSClient, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WSClient{
		conn:    conn,
		drivers: make(map[string]*Driver[json.RawMessage]),
	}, nil
}

// OnPresence registers fn for doc:presence:update frames.
func (c *WSClient) OnPresence(fn func(protocol.PresencePayload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = fn
}

// OnCursor registers fn for other users' doc:cursor:update frames.
func (c *WSClient) OnCursor(fn func(protocol.CursorPayload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCursor = fn
}

func (c *WSClient) write(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Open joins documentID and returns its driver. The driver becomes usable
// once doc:init arrives through Run.
func (c *WSClient) Open(documentID string, opts ...Option[json.RawMessage]) (*Driver[json.RawMessage], error) {
	c.mu.Lock()
	d, ok := c.drivers[documentID]
	if !ok {
		d = NewDriver[json.RawMessage](documentID, c, opts...)
		c.drivers[documentID] = d
	}
	c.mu.Unlock()

	if err := c.write(protocol.EventJoinDocument, protocol.JoinPayload{DocumentID: documentID}); err != nil {
		return nil, err
	}
	return d, nil
}

// Leave unsubscribes from documentID and forgets its driver.
func (c *WSClient) Leave(documentID string) error {
	c.mu.Lock()
	delete(c.drivers, documentID)
	c.mu.Unlock()
	return c.write(protocol.EventLeaveDocument, protocol.JoinPayload{DocumentID: documentID})
}

func (c *WSClient) SendEdit(documentID string, content json.RawMessage, baseVersion uint64) error {
	base := int64(baseVersion)
	return c.write(protocol.EventEdit, protocol.EditPayload{
		DocumentID:  documentID,
		Content:     content,
		BaseVersion: &base,
	})
}

func (c *WSClient) MoveCursor(documentID string, cursor *presence.CursorRange) error {
	return c.write(protocol.EventCursorUpdate, protocol.CursorPayload{
		DocumentID:  documentID,
		CursorRange: cursor,
	})
}

func (c *WSClient) Ping() error {
	return c.write(protocol.EventPing, struct{}{})
}

func (c *WSClient) driver(documentID string) *Driver[json.RawMessage] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drivers[documentID]
}

// Run reads frames until the connection fails or ctx is done.
func (c *WSClient) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := c.dispatch(frame); err != nil {
			log.Warn().Err(err).Msg("sync client: bad frame")
		}
	}
}

func (c *WSClient) dispatch(frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}

	switch env.Event {
	case protocol.EventInit, protocol.EventAck, protocol.EventUpdate:
		var snap protocol.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		d := c.driver(snap.DocumentID)
		if d == nil {
			return nil
		}
		switch env.Event {
		case protocol.EventInit:
			d.Init(snap)
		case protocol.EventAck:
			return d.HandleAck(snap)
		default:
			d.HandleUpdate(snap)
		}
	case protocol.EventReject:
		var p protocol.RejectPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		if d := c.driver(p.Current.DocumentID); d != nil {
			d.HandleReject(p.Current)
		}
	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		if d := c.driver(p.DocumentID); d != nil {
			if p.Event == protocol.EventEdit {
				d.HandleEditError(p.Message)
			} else {
				d.HandleError(p.Message)
			}
			return nil
		}
		log.Warn().Str("message", p.Message).Msg("sync server error")
	case protocol.EventTitle:
		var p protocol.TitlePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		if d := c.driver(p.DocumentID); d != nil {
			d.HandleTitle(p.Title)
		}
	case protocol.EventPresenceUpdate:
		var p protocol.PresencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		c.mu.Lock()
		fn := c.onPresence
		c.mu.Unlock()
		if fn != nil {
			fn(p)
		}
	case protocol.EventCursorUpdate:
		var p protocol.CursorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		c.mu.Lock()
		fn := c.onCursor
		c.mu.Unlock()
		if fn != nil {
			fn(p)
		}
	case protocol.EventJoinAck, protocol.EventPong:
	default:
		log.Debug().Str("event", env.Event).Msg("sync client: unknown event")
	}
	return nil
}

// Close sends a close frame and shuts the connection.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
