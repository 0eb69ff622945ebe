package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelState tracks the duplex connection lifecycle. Transitions are
// one-directional: Connecting -> Open -> Closing -> Closed, with Failed
// reachable from Connecting and Open. A closed or failed channel is dead;
// construct a new one to retry.
type ChannelState int

const (
	StateConnecting ChannelState = iota
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message discriminators for the duplex wire format. Every message in either
// direction is a JSON object with a mandatory "type" field.
const (
	MessageChat     = "chat"
	MessageToken    = "token"
	MessageComplete = "complete"
	MessageError    = "error"
)

// ChannelMessage mirrors the type-discriminated JSON wire object.
type ChannelMessage struct {
	Type     string        `json:"type"`
	Token    string        `json:"token,omitempty"`
	Error    string        `json:"error,omitempty"`
	Messages []ChatMessage `json:"messages,omitempty"`
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 120 * time.Second
	channelWriteTimeout     = 10 * time.Second
	channelPingInterval     = 50 * time.Second
	channelEventBuffer      = 16
)

type ChannelOption func(*Channel)

// WithReadTimeout bounds how long the channel waits for any inbound frame
// before failing the connection. The backend has no heartbeat of its own,
// so without this a stalled connection would hang forever. Zero disables
// the deadline.
func WithReadTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		c.readTimeout = d
	}
}

// WithHandshakeTimeout bounds the websocket dial.
func WithHandshakeTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		c.handshakeTimeout = d
	}
}

// Channel is a persistent bidirectional chat connection. Inbound messages
// are dispatched by their type discriminator onto a single event channel;
// unknown types are logged and ignored so newer backends stay compatible.
type Channel struct {
	conn   *websocket.Conn
	events chan Event

	mu    sync.Mutex // guards state and conn writes
	state ChannelState

	closeOnce sync.Once
	closed    chan struct{} // closed by Close; stops event delivery and pings

	readTimeout      time.Duration
	handshakeTimeout time.Duration
}

// DialChannel opens the duplex chat connection. The endpoint is the plain
// http(s) backend address; the websocket scheme and path are derived from it.
func DialChannel(ctx context.Context, endpoint string, opts ...ChannelOption) (*Channel, error) {
	c := &Channel{
		events:           make(chan Event, channelEventBuffer),
		state:            StateConnecting,
		closed:           make(chan struct{}),
		readTimeout:      defaultReadTimeout,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	url := channelURL(endpoint)
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateFailed)
		return nil, &TransportError{Err: fmt.Errorf("dial %s: %w", url, err)}
	}

	c.conn = conn
	c.setState(StateOpen)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Events returns the inbound event sink. It is closed when the connection
// settles into Closed or Failed.
func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send serializes the request as one chat message. It fails with
// ErrChannelNotOpen unless the channel is Open.
func (c *Channel) Send(req ChatRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return ErrChannelNotOpen
	}
	c.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout))
	if err := c.conn.WriteJSON(ChannelMessage{Type: MessageChat, Messages: req.Messages}); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Close requests a graceful shutdown. It is idempotent and returns
// immediately; the read loop settles the final state once the peer answers
// the close handshake (or the short deadline fires).
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state == StateConnecting || c.state == StateOpen {
			c.state = StateClosing
		}
		close(c.closed)
		if c.conn != nil {
			c.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			// Deadlines on the read side belong to the read loop. If the
			// peer never answers the close handshake, force the connection
			// shut instead; Conn.Close is safe from any goroutine.
			time.AfterFunc(channelWriteTimeout, func() { c.conn.Close() })
		}
		c.mu.Unlock()
	})
	return nil
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// readLoop is the only reader on the connection. It dispatches each inbound
// message by its discriminator and settles the terminal state on exit.
func (c *Channel) readLoop() {
	defer func() {
		c.conn.Close()
		// A requested close must always land in Closed, even when the
		// loop bails out of an abandoned emit before reaching settle.
		c.mu.Lock()
		if c.state == StateClosing {
			c.state = StateClosed
		}
		c.mu.Unlock()
		close(c.events)
	}()

	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}

	completed := false
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.settle(err)
			return
		}
		if c.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		var msg ChannelMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			Warnf("channel: undecodable message, ignoring: %v", err)
			continue
		}
		switch msg.Type {
		case MessageToken:
			// A token after a complete starts the next response.
			completed = false
			if !c.emit(Event{Type: EventToken, Token: msg.Token}) {
				return
			}
		case MessageComplete:
			// Duplicate completes for one response collapse to a single event.
			if completed {
				continue
			}
			completed = true
			if !c.emit(Event{Type: EventDone}) {
				return
			}
		case MessageError:
			// Server-side generation failure; the connection stays Open.
			if !c.emit(Event{Type: EventStreamError, Err: errors.New(msg.Error)}) {
				return
			}
		case "":
			Warnf("channel: message without a type field, ignoring")
		default:
			Debugf("channel: unknown message type %q, ignoring", msg.Type)
		}
	}
}

// settle maps the read loop's exit cause to the terminal state. A close we
// asked for lands in Closed; a close or failure we did not ask for reports
// an error event first.
func (c *Channel) settle(err error) {
	c.mu.Lock()
	closing := c.state == StateClosing
	c.mu.Unlock()

	switch {
	case closing:
		c.setState(StateClosed)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.emit(Event{Type: EventStreamError, Err: &TransportError{Err: fmt.Errorf("connection closed by peer: %w", err)}})
		c.setState(StateClosed)
	default:
		c.emit(Event{Type: EventStreamError, Err: &TransportError{Err: err}})
		c.setState(StateFailed)
	}
}

func (c *Channel) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

// pingLoop keeps the read deadline honest on idle connections.
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(channelPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != StateOpen {
				c.mu.Unlock()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// channelURL derives the websocket address from the backend endpoint.
func channelURL(endpoint string) string {
	u := strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/chat/ws"
}

// ChannelCallbacks is the callback-style surface over the event sink.
type ChannelCallbacks struct {
	OnToken    func(token string)
	OnComplete func()
	OnError    func(err error)
}

// OpenChatChannel dials the duplex connection and pumps its events into the
// given callbacks: OnToken per token message, OnComplete exactly once for
// the complete message, OnError for error messages and transport failures.
func OpenChatChannel(ctx context.Context, endpoint string, cb ChannelCallbacks, opts ...ChannelOption) (*Channel, error) {
	c, err := DialChannel(ctx, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range c.Events() {
			switch ev.Type {
			case EventToken:
				if cb.OnToken != nil {
					cb.OnToken(ev.Token)
				}
			case EventDone:
				if cb.OnComplete != nil {
					cb.OnComplete()
				}
			case EventStreamError:
				if cb.OnError != nil {
					cb.OnError(ev.Err)
				}
			}
		}
	}()
	return c, nil
}
