package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoBridge is returned by Call when no platform bridge is connected.
var ErrNoBridge = errors.New("no bridge connected")

// Conn represents a single bridge WebSocket connection.
type Conn struct {
	ID           string
	Platform     string
	Capabilities []string
	WS           *websocket.Conn
	writeMu      sync.Mutex
	ConnectedAt  time.Time
}

// Send writes a frame to the WebSocket connection (thread-safe).
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.WS.WriteJSON(frame)
}

// BridgeLink tracks the active bridge connection and correlates
// server→bridge requests with their responses. At most one bridge is
// attached at a time; a newer connection replaces the previous one.
type BridgeLink struct {
	mu      sync.Mutex
	conn    *Conn
	pending map[string]chan Frame
	nextID  atomic.Int64
	onEvent func(event string, payload json.RawMessage)
}

func NewBridgeLink() *BridgeLink {
	return &BridgeLink{pending: make(map[string]chan Frame)}
}

// SetEventHandler registers the handler for bridge-pushed events.
func (l *BridgeLink) SetEventHandler(fn func(event string, payload json.RawMessage)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEvent = fn
}

// Connected reports whether a bridge is currently attached.
func (l *BridgeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Bridge returns the attached connection, or nil.
func (l *BridgeLink) Bridge() *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *BridgeLink) attach(conn *Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = conn
}

func (l *BridgeLink) detach(conn *Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == conn {
		l.conn = nil
	}
	// Fail outstanding calls rather than leaving them to time out.
	for id, ch := range l.pending {
		select {
		case ch <- ResErr(id, "BRIDGE_GONE", "bridge disconnected"):
		default:
		}
	}
}

// Call sends a request frame to the bridge and waits for the matching
// response or ctx cancellation.
func (l *BridgeLink) Call(ctx context.Context, method string, params any, out any) error {
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return ErrNoBridge
	}
	id := fmt.Sprintf("req_%d", l.nextID.Add(1))
	ch := make(chan Frame, 1)
	l.pending[id] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := conn.Send(ReqFrame(id, method, params)); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case frame := <-ch:
		if frame.OK == nil || !*frame.OK {
			if frame.Error != nil {
				return fmt.Errorf("%s: %s (%s)", method, frame.Error.Message, frame.Error.Code)
			}
			return fmt.Errorf("%s: bridge returned failure", method)
		}
		if out != nil && len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, out); err != nil {
				return fmt.Errorf("decode %s response: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch routes an inbound frame: responses resolve pending calls,
// events go to the registered handler.
func (l *BridgeLink) dispatch(frame Frame) {
	switch frame.Type {
	case "res":
		l.mu.Lock()
		ch, ok := l.pending[frame.ID]
		l.mu.Unlock()
		if ok {
			select {
			case ch <- frame:
			default:
			}
		}
	case "event":
		l.mu.Lock()
		fn := l.onEvent
		l.mu.Unlock()
		if fn != nil {
			fn(frame.Event, frame.Payload)
		}
	}
}

// ReadFrame reads and parses a WebSocket message into a Frame.
func ReadFrame(ws *websocket.Conn) (Frame, error) {
	var frame Frame
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}
