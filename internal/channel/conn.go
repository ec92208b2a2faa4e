// Package channel owns the single live WebSocket connection to the message
// relay. It parses inbound frames into domain events on the bus and offers
// acknowledged sends; it never mutates a store directly and never reconnects
// on its own (the daemon owns retry).
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskora/chatsync/internal/bus"
	"github.com/taskora/chatsync/internal/model"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// maxMessageSize bounds inbound frames; large payloads travel over REST.
	maxMessageSize = 64 * 1024
)

// ErrConnectionClosed is returned by Send when no connection is open, and
// delivered to pending ack callbacks when the connection drops before the
// relay answered.
var ErrConnectionClosed = errors.New("channel: connection closed")

// ErrAckTimeout is delivered to an ack callback when the configured ack
// timeout elapses. It can only occur when the timeout is explicitly enabled.
var ErrAckTimeout = errors.New("channel: acknowledgment timed out")

// Credentials authenticate the dial against the relay.
type Credentials struct {
	Token  string
	UserID string
}

// AckFunc receives the server payload of an acknowledged send, or an error.
// It is invoked at most once. With AckTimeout disabled (the default) it may
// never be invoked at all while the connection stays up.
type AckFunc func(payload json.RawMessage, err error)

// Conn is a single logical connection to the relay.
type Conn struct {
	url        string
	ackTimeout time.Duration
	bus        *bus.Bus
	logger     *zap.Logger
	state      *Machine

	writeMu sync.Mutex // guards ws writes
	mu      sync.Mutex // guards ws, pending, epoch
	ws      *websocket.Conn
	pending map[string]AckFunc
	epoch   uint64 // bumped on every teardown so a stale read loop cannot tear down a new dial
}

// Option configures a Conn.
type Option func(*Conn)

// WithAckTimeout enables an acknowledgment timeout. Zero keeps the
// documented no-timeout behavior.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Conn) { c.ackTimeout = d }
}

// New creates a connection handle for the given relay URL. The handle starts
// Closed; Dial opens it.
func New(url string, b *bus.Bus, logger *zap.Logger, opts ...Option) *Conn {
	c := &Conn{
		url:     url,
		bus:     b,
		logger:  logger,
		state:   NewMachine(),
		pending: make(map[string]AckFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Conn) State() State {
	return c.state.Current()
}

// Dial opens the connection and starts the read loop. At most one connection
// is open per handle; dialing an open handle is an error.
func (c *Conn) Dial(ctx context.Context, creds Credentials) error {
	if err := c.state.Transition(Connecting); err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		_ = c.state.Transition(Closed)
		return fmt.Errorf("dial relay: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.ws = ws
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.state.Transition(Open); err != nil {
		_ = ws.Close()
		return err
	}

	c.logger.Info("channel open", zap.String("url", c.url))
	c.bus.Emit(bus.KindChannelConnected, creds.UserID)

	go c.readLoop(ws, epoch)
	return nil
}

// Close tears the connection down. Pending ack callbacks receive
// ErrConnectionClosed. Safe to call when already closed.
func (c *Conn) Close() {
	c.teardown(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Send writes a frame for the given op. If ack is non-nil the relay's
// acknowledgment (or the drop of the connection) will invoke it exactly once.
func (c *Conn) Send(op string, payload any, ack AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", op, err)
	}

	env := Envelope{Op: op, Data: data}

	c.mu.Lock()
	ws := c.ws
	if ws == nil || c.state.Current() != Open {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if ack != nil {
		env.AckID = uuid.New().String()
		c.pending[env.AckID] = ack
		if c.ackTimeout > 0 {
			c.scheduleAckTimeout(env.AckID)
		}
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(env); err != nil {
		if ack != nil {
			if cb := c.takePending(env.AckID); cb != nil {
				cb(nil, fmt.Errorf("write %s: %w", op, err))
			}
		}
		return fmt.Errorf("write %s: %w", op, err)
	}
	return nil
}

// JoinConversation subscribes this connection to a conversation's updates.
func (c *Conn) JoinConversation(conversationID string) error {
	return c.Send(OpJoinConversation, JoinPayload{ConversationID: conversationID}, nil)
}

// SendMessage sends a message with acknowledgment.
func (c *Conn) SendMessage(p SendMessagePayload, ack AckFunc) error {
	return c.Send(OpSendMessage, p, ack)
}

func (c *Conn) scheduleAckTimeout(ackID string) {
	time.AfterFunc(c.ackTimeout, func() {
		if cb := c.takePending(ackID); cb != nil {
			cb(nil, ErrAckTimeout)
		}
	})
}

// takePending removes and returns the callback for ackID. The removal under
// lock is what makes ack delivery at-most-once.
func (c *Conn) takePending(ackID string) AckFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.pending[ackID]
	if !ok {
		return nil
	}
	delete(c.pending, ackID)
	return cb
}

func (c *Conn) readLoop(ws *websocket.Conn, epoch uint64) {
	defer c.teardownEpoch(nil, epoch)

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("channel read error", zap.Error(err))
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env Envelope) {
	switch env.Op {
	case OpAck:
		cb := c.takePending(env.AckID)
		if cb == nil {
			return
		}
		if env.Error != "" {
			cb(nil, fmt.Errorf("relay rejected send: %s", env.Error))
			return
		}
		cb(env.Data, nil)

	case OpNewMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.logger.Warn("malformed new_message frame", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindChannelNewMessage, &msg)

	case OpMessageNotification:
		var n NotificationPayload
		if err := json.Unmarshal(env.Data, &n); err != nil {
			c.logger.Warn("malformed notification frame", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindChannelNotification, &n)

	default:
		c.logger.Debug("unhandled relay op", zap.String("op", env.Op))
	}
}

func (c *Conn) teardown(closeMsg []byte) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.teardownEpoch(closeMsg, epoch)
}

// teardownEpoch closes the socket, fails every pending ack and publishes the
// disconnect, once per epoch.
func (c *Conn) teardownEpoch(closeMsg []byte, epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.ws == nil {
		c.mu.Unlock()
		return
	}
	c.epoch++
	ws := c.ws
	c.ws = nil
	orphaned := c.pending
	c.pending = make(map[string]AckFunc)
	c.mu.Unlock()

	if closeMsg != nil {
		c.writeMu.Lock()
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage, closeMsg)
		c.writeMu.Unlock()
	}
	_ = ws.Close()
	_ = c.state.Transition(Closed)

	for _, cb := range orphaned {
		cb(nil, ErrConnectionClosed)
	}

	c.logger.Info("channel closed", zap.Int("orphaned_acks", len(orphaned)))
	c.bus.Emit(bus.KindChannelDisconnected, nil)
}
