package live

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	livePath                = "ws/juror/live"
	tokenQueryParameter     = "token"
	defaultHandshakeTimeout = 12 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultEventBuffer      = 64

	reasonInvalidURL  = "Invalid live channel address."
	reasonClosed      = "Connection closed."
	reasonDialFailure = "Live channel connection failed"
	manualCloseText   = "manual"
)

var (
	// ErrUnsupportedScheme indicates a base endpoint that is neither http nor https.
	ErrUnsupportedScheme = errors.New("live: base url scheme must be http or https")
	// ErrNotConnected indicates that no live connection is open.
	ErrNotConnected = errors.New("live: not connected")
)

// EventType discriminates Event values.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventSnapshot     EventType = "snapshot"
	EventAck          EventType = "ack"
	EventError        EventType = "error"
	EventDisconnected EventType = "disconnected"
)

// Event is delivered in arrival order on Client.Events.
type Event struct {
	Type EventType
	// Confirmed marks a server "connected" message as opposed to the local open.
	Confirmed bool
	Action    string
	Message   string
	Snapshot  *scoring.Snapshot
	Discarded int
	// Reason and HTTPStatus describe a disconnect; HTTPStatus is 0 without a handshake response.
	Reason     string
	HTTPStatus int
}

// Config configures a Client.
type Config struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	EventBuffer      int
	Dialer           *websocket.Dialer
	Logger           *zap.Logger
}

type connection struct {
	ws          *websocket.Conn
	manualClose atomic.Bool
	writeMu     sync.Mutex
}

// Client maintains at most one live connection.
type Client struct {
	baseURL      string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *zap.Logger

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	dialMu sync.Mutex
	mu     sync.Mutex
	conn   *connection
}

// NewClient builds a Client; no connection is opened.
func NewClient(cfg Config) *Client {
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		dialer:       dialer,
		writeTimeout: writeTimeout,
		logger:       logger,
		events:       make(chan Event, buffer),
		closed:       make(chan struct{}),
	}
}

// BuildURL derives the live endpoint from an http(s) base url.
func BuildURL(baseURL, accessToken string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", ErrUnsupportedScheme
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("live: base url has no host")
	}
	endpoint := parsed.JoinPath(livePath)
	query := endpoint.Query()
	query.Set(tokenQueryParameter, accessToken)
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

// Events is the single FIFO stream of connection events.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect replaces any existing connection with a new one. Failures are reported both as
// the returned error and as an EventDisconnected; no retry is scheduled here.
func (c *Client) Connect(ctx context.Context, accessToken string) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.Disconnect()

	endpoint, err := BuildURL(c.baseURL, accessToken)
	if err != nil {
		c.emit(Event{Type: EventDisconnected, Reason: reasonInvalidURL})
		return err
	}

	ws, response, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		event := Event{Type: EventDisconnected, Reason: fmt.Sprintf("%s: %v", reasonDialFailure, err)}
		if response != nil {
			event.HTTPStatus = response.StatusCode
			event.Reason = fmt.Sprintf("%s: %s", reasonDialFailure, response.Status)
			_ = response.Body.Close()
		}
		c.logger.Warn("live channel dial failed",
			zap.Int("http_status", event.HTTPStatus),
			zap.Error(err))
		c.emit(event)
		return err
	}

	active := &connection{ws: ws}
	c.mu.Lock()
	c.conn = active
	c.mu.Unlock()

	c.emit(Event{Type: EventConnected})
	go c.readLoop(active)
	return nil
}

// Disconnect closes the active connection with a normal closure. No disconnect event follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	active := c.conn
	c.conn = nil
	c.mu.Unlock()
	if active == nil {
		return
	}
	active.manualClose.Store(true)
	active.writeMu.Lock()
	deadline := time.Now().Add(c.writeTimeout)
	_ = active.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, manualCloseText), deadline)
	active.writeMu.Unlock()
	_ = active.ws.Close()
}

// Close disconnects and stops event delivery.
func (c *Client) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() { close(c.closed) })
}

// SendInit requests the authoritative snapshot.
func (c *Client) SendInit() bool {
	return c.send(ActionInit, struct{}{})
}

// SendUpsertMyScore reports whether the action was accepted for transmission.
func (c *Client) SendUpsertMyScore(participantID, criterionID string, point int) bool {
	return c.send(ActionUpsertMyScore, UpsertScoreData{
		ParticipantID: participantID,
		CriterionID:   criterionID,
		Point:         point,
	})
}

func (c *Client) send(action string, data any) bool {
	c.mu.Lock()
	active := c.conn
	c.mu.Unlock()
	if active == nil {
		return false
	}
	frame, err := EncodeAction(action, data)
	if err != nil {
		return false
	}
	active.writeMu.Lock()
	defer active.writeMu.Unlock()
	if err := active.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return false
	}
	if err := active.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn("live channel send failed", zap.String("action", action), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) readLoop(active *connection) {
	for {
		messageType, frame, err := active.ws.ReadMessage()
		if err != nil {
			c.handleReadFailure(active, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		envelope, ok := Decode(frame)
		if !ok {
			continue
		}
		if event, ok := c.toEvent(envelope); ok {
			c.emit(event)
		}
	}
}

func (c *Client) toEvent(envelope Envelope) (Event, bool) {
	switch envelope.Type {
	case TypeConnected:
		return Event{Type: EventConnected, Confirmed: true}, true
	case TypeSnapshot:
		if envelope.Discarded > 0 {
			c.logger.Warn("live snapshot elements discarded", zap.Int("discarded", envelope.Discarded))
		}
		return Event{Type: EventSnapshot, Snapshot: envelope.Snapshot, Discarded: envelope.Discarded}, true
	case TypeAck:
		return Event{Type: EventAck, Action: envelope.Action, Message: envelope.Message}, true
	case TypeError:
		return Event{Type: EventError, Action: envelope.Action, Message: envelope.Message}, true
	default:
		return Event{}, false
	}
}

func (c *Client) handleReadFailure(active *connection, err error) {
	c.mu.Lock()
	if c.conn == active {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = active.ws.Close()

	if active.manualClose.Load() {
		return
	}
	reason := reasonClosed
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if text := strings.TrimSpace(closeErr.Text); text != "" {
			reason = text
		}
	} else {
		reason = err.Error()
	}
	c.logger.Info("live channel closed", zap.String("reason", reason))
	c.emit(Event{Type: EventDisconnected, Reason: reason})
}

func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	case <-c.closed:
	}
}
