package realtime

import (
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultMaxReconnectAttempts bounds the automatic reconnection policy. After
// the last failed attempt the connection gives up until a fresh Connect call.
const DefaultMaxReconnectAttempts = 5

// Handler receives the raw payload of one message. For local lifecycle events
// the payload may be nil.
type Handler func(data []byte)

// Subscription identifies one registered handler so it can be removed again.
type Subscription struct {
	event string
	fn    Handler
}

// wsConn is the slice of *websocket.Conn the client needs. Tests substitute
// their own implementation through the dial function.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(urlStr string) (wsConn, error)

func gorillaDial(urlStr string) (wsConn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(urlStr, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Conn is a persistent duplex connection to the pipeline server. All
// subscribers share one physical connection and one reconnect state machine;
// construct it once and pass the handle to whoever needs it.
//
// Lifecycle: Disconnected -> Connecting -> Open -> Disconnected (retry
// scheduled) -> ... -> gave up. Handlers registered with On persist across
// reconnects.
type Conn struct {
	MaxReconnectAttempts int

	endpoint *url.URL
	log      zerolog.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex
	ws       wsConn
	token    string
	open     bool
	gaveUp   bool
	attempt  int
	gen      int
	timer    *time.Timer
	handlers map[string][]*Subscription

	dial  dialFunc
	after func(d time.Duration, f func()) *time.Timer
}

// NewConn creates a client for the websocket endpoint. The caller's auth
// token is supplied per Connect call and embedded in the connection URL.
func NewConn(endpoint *url.URL, log zerolog.Logger) *Conn {
	return &Conn{
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		endpoint:             endpoint,
		log:                  log,
		handlers:             make(map[string][]*Subscription),
		dial:                 gorillaDial,
		after:                time.AfterFunc,
	}
}

// Connect opens the connection keyed by token. A no-op while the connection
// is open. The returned error reports the first dial attempt only: the
// reconnection policy keeps running in the background either way, and the
// lifecycle events are the authoritative surface.
func (c *Conn) Connect(token string) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	c.token = token
	c.attempt = 0
	c.gaveUp = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.dialOnce()
}

// Disconnect closes the connection and suppresses further reconnection
// attempts until the next Connect call.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.token = ""
	c.open = false
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

// Connected reports whether the connection is open right now.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// GaveUp reports whether the reconnection policy is exhausted. Distinct from
// a transient reconnecting state: live updates have stopped until a fresh
// Connect call.
func (c *Conn) GaveUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaveUp
}

// On registers a handler for a message type or lifecycle event. Handlers for
// one event are invoked in registration order, synchronously per message.
func (c *Conn) On(event string, h Handler) *Subscription {
	s := &Subscription{event: event, fn: h}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], s)
	c.mu.Unlock()
	return s
}

// Off removes a previously registered handler.
func (c *Conn) Off(s *Subscription) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.handlers[s.event]
	for i, e := range list {
		if e == s {
			c.handlers[s.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// Send marshals msg and writes it to the connection. While not open this is a
// logged no-op: the message is dropped, not queued.
func (c *Conn) Send(msg any) {
	c.mu.Lock()
	ws, open := c.ws, c.open
	c.mu.Unlock()
	if !open || ws == nil {
		c.log.Debug().Msg("[WS] not connected, dropping outbound message")
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("[WS] cannot marshal outbound message")
		return
	}
	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Debug().Err(err).Msg("[WS] write error")
	}
}

func (c *Conn) dialOnce() error {
	c.mu.Lock()
	token := c.token
	startGen := c.gen
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	u := *c.endpoint
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, err := c.dial(u.String())
	if err != nil {
		c.log.Debug().Err(err).Msg("[WS] dial failed")
		c.emit(EventError, []byte(err.Error()))
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.token == "" || c.gen != startGen {
		// Disconnect (or a newer Connect) raced with this dial; the stale
		// socket must not bring the connection back up.
		c.mu.Unlock()
		_ = ws.Close()
		return nil
	}
	c.ws = ws
	c.open = true
	c.attempt = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.log.Info().Str("endpoint", c.endpoint.String()).Msg("[WS] connected")
	c.emit(EventConnected, nil)
	go c.readLoop(ws, gen)
	return nil
}

func (c *Conn) readLoop(ws wsConn, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) handleClose(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || !c.open {
		// A newer connection or an explicit Disconnect superseded this one.
		c.mu.Unlock()
		return
	}
	c.open = false
	c.ws = nil
	c.mu.Unlock()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Debug().Err(err).Msg("[WS] read error")
		c.emit(EventError, []byte(err.Error()))
	}
	c.emit(EventDisconnected, nil)
	c.scheduleReconnect()
}

// scheduleReconnect implements the backoff policy: attempts 1..N delayed by
// 1s, 2s, 4s, ... Exhaustion emits gave_up exactly once.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return
	}
	if c.attempt >= c.MaxReconnectAttempts {
		already := c.gaveUp
		c.gaveUp = true
		c.mu.Unlock()
		if !already {
			c.log.Warn().Msg("[WS] reconnect attempts exhausted, giving up")
			c.emit(EventGaveUp, nil)
		}
		return
	}
	c.attempt++
	attempt := c.attempt
	delay := time.Duration(1<<(attempt-1)) * time.Second
	c.timer = c.after(delay, func() { _ = c.dialOnce() })
	c.mu.Unlock()
	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("[WS] reconnect scheduled")
}

func (c *Conn) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.log.Debug().Err(err).Msg("[WS] dropping undecodable message")
		return
	}
	c.emit(env.Type, data)
}

// emit fans a payload out to the handlers of one event, synchronously and in
// registration order. A slow handler for one event type cannot block delivery
// to other types beyond the current message.
func (c *Conn) emit(event string, data []byte) {
	c.mu.Lock()
	subs := append([]*Subscription(nil), c.handlers[event]...)
	c.mu.Unlock()
	if len(subs) == 0 {
		c.log.Debug().Str("type", event).Msg("[WS] no handlers for message type")
		return
	}
	for _, s := range subs {
		s.fn(data)
	}
}
