package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dashvoice/internal/observe"
)

const (
	defaultSendTimeout   = 5 * time.Second
	defaultDialTimeout   = 10 * time.Second
	defaultOutboundQueue = 16
	defaultInboundQueue  = 64

	// maxMessageSize bounds a single inbound message. Audio deltas are
	// base64 PCM and routinely exceed the library's 32 KiB default.
	maxMessageSize = 4 << 20
)

var (
	// ErrNotOpen is returned by [Client.Send] when the connection is not
	// open. The message is dropped and a reconnect is requested.
	ErrNotOpen = errors.New("transport: connection not open")

	// ErrQueueFull is returned by [Client.Send] when the writer is too far
	// behind to accept another message. The message is dropped.
	ErrQueueFull = errors.New("transport: outbound queue full")
)

// Config configures a [Client].
type Config struct {
	// URL is the base ws:// or wss:// endpoint.
	URL string

	// ClientID is sent as the client_id query parameter once known.
	ClientID string

	// Token is sent as the token query parameter when non-empty.
	Token string

	// ReconnectDelay is the fixed delay before a reconnect. Defaults to
	// [DefaultReconnectDelay].
	ReconnectDelay time.Duration

	// SendTimeout bounds a single WebSocket write. Defaults to 5s.
	SendTimeout time.Duration

	// DialTimeout bounds a single connect attempt. Defaults to 10s.
	DialTimeout time.Duration

	// OutboundQueue is the capacity of the outbound channel. Defaults to 16.
	OutboundQueue int

	// OnStateChange, when set, is called after every state transition. It
	// must not block.
	OnStateChange func(State)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type outbound struct {
	typ  string
	data []byte
	gen  uint64
}

// Client is a reconnecting WebSocket session. Create it with [New], then call
// [Client.Run] exactly once; Run owns the connection until its context is
// cancelled.
type Client struct {
	sendTimeout   time.Duration
	dialTimeout   time.Duration
	onStateChange func(State)
	metrics       *observe.Metrics
	reconnector   *Reconnector

	inbound  chan []byte
	outbound chan outbound

	mu       sync.Mutex
	endpoint string
	clientID string
	token    string
	state    State
	conn     *websocket.Conn
	gen      uint64 // bumped whenever the current connection is abandoned
	ctx      context.Context
	closed   bool

	// readCtx outlives the Run context so the close handshake can complete
	// before readers are torn down.
	readCtx    context.Context
	readCancel context.CancelFunc

	readers sync.WaitGroup
}

// New validates cfg and returns an idle Client.
func New(cfg Config) (*Client, error) {
	if _, err := ValidateURL(cfg.URL); err != nil {
		return nil, err
	}
	c := &Client{
		sendTimeout:   cfg.SendTimeout,
		dialTimeout:   cfg.DialTimeout,
		onStateChange: cfg.OnStateChange,
		metrics:       cfg.Metrics,
		endpoint:      cfg.URL,
		clientID:      cfg.ClientID,
		token:         cfg.Token,
		inbound:       make(chan []byte, defaultInboundQueue),
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = defaultSendTimeout
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = defaultDialTimeout
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	queue := cfg.OutboundQueue
	if queue <= 0 {
		queue = defaultOutboundQueue
	}
	c.outbound = make(chan outbound, queue)
	c.reconnector = NewReconnector(ReconnectorConfig{
		Delay:     cfg.ReconnectDelay,
		Reconnect: c.connect,
		Metrics:   c.metrics,
	})
	return c, nil
}

// Inbound returns the channel of raw inbound text messages. It is closed
// when [Client.Run] returns.
func (c *Client) Inbound() <-chan []byte { return c.inbound }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the identifier carried on the session URL.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SetClientID stores the identifier assigned by the server. It takes effect
// on the next connect; the current connection is kept.
func (c *Client) SetClientID(id string) {
	c.mu.Lock()
	c.clientID = id
	c.mu.Unlock()
}

// Run connects and then serves the outbound queue until ctx is cancelled.
// Connection failures are never returned; they schedule a reconnect. On
// return the connection is closed with a normal-closure status, any pending
// reconnect is cancelled, and the inbound channel is closed.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		return errors.New("transport: client already running")
	}
	c.ctx = ctx
	c.readCtx, c.readCancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	defer c.shutdown()

	go c.connect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.outbound:
			c.write(ctx, msg)
		}
	}
}

// Send queues one message for the writer. It never blocks. When the
// connection is not open the message is dropped, a reconnect is requested and
// [ErrNotOpen] is returned.
func (c *Client) Send(typ string, data []byte) error {
	c.mu.Lock()
	state, gen, closed := c.state, c.gen, c.closed
	c.mu.Unlock()

	if closed {
		c.metrics.RecordDrop(context.Background(), typ, "closed")
		return ErrNotOpen
	}
	if state != StateOpen {
		c.metrics.RecordDrop(context.Background(), typ, "not_open")
		if state == StateDisconnected {
			c.reconnector.Schedule("send_while_closed")
		}
		return ErrNotOpen
	}

	select {
	case c.outbound <- outbound{typ: typ, data: data, gen: gen}:
		return nil
	default:
		c.metrics.RecordDrop(context.Background(), typ, "queue_full")
		return ErrQueueFull
	}
}

// UpdateEndpoint replaces the base URL and token and forces a reconnect:
// the current connection is closed and a new one is dialled immediately.
// An empty token clears it.
func (c *Client) UpdateEndpoint(rawURL, token string) error {
	if _, err := ValidateURL(rawURL); err != nil {
		return err
	}

	c.mu.Lock()
	c.endpoint = rawURL
	c.token = token
	running := c.ctx != nil && !c.closed
	var old *websocket.Conn
	var changed bool
	if running {
		old = c.conn
		c.conn = nil
		c.gen++
		changed = c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if !running {
		return nil
	}
	if changed {
		c.notify(StateDisconnected)
	}

	c.reconnector.Cancel()
	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "endpoint changed")
	}
	c.metrics.RecordReconnect(context.Background(), "endpoint_changed")
	slog.Info("endpoint updated, reconnecting", "url", rawURL)
	go c.connect()
	return nil
}

// connect performs one connect attempt. It is a no-op while a connection is
// open or being established, and after shutdown.
func (c *Client) connect() {
	c.mu.Lock()
	if c.closed || c.ctx == nil || c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	parent, readCtx := c.ctx, c.readCtx
	c.setStateLocked(StateConnecting)
	gen, clientID := c.gen, c.clientID
	target, urlErr := BuildURL(c.endpoint, c.clientID, c.token)
	host := endpointHost(c.endpoint)
	c.mu.Unlock()
	c.notify(StateConnecting)

	ctx, span := observe.StartConnectSpan(parent, host, clientID)
	defer span.End()
	log := observe.Logger(ctx)

	if urlErr != nil {
		observe.FailSpan(span, urlErr, "invalid url")
		log.Error("cannot build session url", "err", urlErr)
		c.connectFailed(gen, "invalid_url")
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	start := time.Now()
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))

	if err != nil {
		observe.FailSpan(span, err, "dial failed")
		log.Warn("connect failed", "err", err)
		c.connectFailed(gen, "dial_failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	if c.closed || c.gen != gen {
		// Superseded by shutdown or an endpoint change while dialling.
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.conn = conn
	c.setStateLocked(StateOpen)
	c.readers.Add(1)
	c.mu.Unlock()

	log.Info("connected", "url", redact(target))
	c.notify(StateOpen)
	go c.readLoop(readCtx, conn, gen)
}

func (c *Client) connectFailed(gen uint64, reason string) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	if changed {
		c.notify(StateDisconnected)
	}
	c.reconnector.Schedule(reason)
}

// connectionLost abandons conn if it is still current and schedules a
// reconnect.
func (c *Client) connectionLost(gen uint64, reason string, status websocket.StatusCode) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(status, reason)
	}
	if changed {
		c.notify(StateDisconnected)
	}
	c.reconnector.Schedule(reason)
}

// readLoop forwards inbound text messages until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	defer c.readers.Done()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}
			slog.Warn("connection closed", "err", err, "status", websocket.CloseStatus(err))
			c.connectionLost(gen, "connection_lost", websocket.StatusGoingAway)
			return
		}
		if typ != websocket.MessageText {
			c.metrics.RecordDrop(ctx, "binary", "unexpected_frame")
			continue
		}
		select {
		case c.inbound <- data:
		case <-ctx.Done():
			return
		}
	}
}

// write sends one queued message on the current connection. Messages queued
// for an abandoned connection are dropped.
func (c *Client) write(ctx context.Context, msg outbound) {
	c.mu.Lock()
	conn, gen := c.conn, c.gen
	c.mu.Unlock()

	if conn == nil || msg.gen != gen {
		c.metrics.RecordDrop(ctx, msg.typ, "stale_connection")
		return
	}

	wctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	start := time.Now()
	err := conn.Write(wctx, websocket.MessageText, msg.data)
	c.metrics.SendDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("type", msg.typ)))

	if err != nil {
		c.metrics.RecordMessageSent(ctx, msg.typ, "error")
		if ctx.Err() != nil {
			return
		}
		slog.Warn("send failed", "type", msg.typ, "err", err)
		c.connectionLost(gen, "send_failed", websocket.StatusInternalError)
		return
	}
	c.metrics.RecordMessageSent(ctx, msg.typ, "ok")
}

// shutdown closes the connection with a normal-closure status and releases
// the inbound channel once all readers have exited.
func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.gen++
	changed := c.setStateLocked(StateClosing)
	c.mu.Unlock()

	c.reconnector.Stop()
	if changed {
		c.notify(StateClosing)
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "session stopped"); err != nil {
			slog.Debug("close handshake incomplete", "err", err)
		}
	}
	c.readCancel()
	c.readers.Wait()

	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	c.notify(StateDisconnected)

	close(c.inbound)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Client) notify(s State) {
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// endpointHost is the host part of a base URL, for span attributes.
func endpointHost(raw string) string {
	u, err := ValidateURL(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// redact strips the token from a session URL for logging.
func redact(raw string) string {
	u, err := ValidateURL(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has(ParamToken) {
		q.Set(ParamToken, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// String implements [fmt.Stringer] for log output.
func (c *Client) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("transport.Client(%s, %s)", redact(c.endpoint), c.state)
}
