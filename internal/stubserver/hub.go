package stubserver

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/live"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/scoring"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveWriteTimeout = 5 * time.Second
	closeReasonDrop  = "server restart"
)

type outboundMessage struct {
	Type    string          `json:"type"`
	Action  string          `json:"action,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type inboundAction struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// liveConn is one juror socket; writes are serialized.
type liveConn struct {
	id      int64
	jurorID string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *liveConn) write(message outboundMessage) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, encoded)
}

func (c *liveConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(liveWriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.ws.Close()
}

// liveHub tracks open sockets per juror.
type liveHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*liveConn
	nextID      int64
	logger      *zap.Logger
}

func newLiveHub(logger *zap.Logger) *liveHub {
	return &liveHub{
		subscribers: make(map[string]map[int64]*liveConn),
		logger:      logger,
	}
}

func (h *liveHub) register(jurorID string, ws *websocket.Conn) *liveConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	conn := &liveConn{id: h.nextID, jurorID: jurorID, ws: ws}
	if _, ok := h.subscribers[jurorID]; !ok {
		h.subscribers[jurorID] = make(map[int64]*liveConn)
	}
	h.subscribers[jurorID][conn.id] = conn
	return conn
}

func (h *liveHub) unregister(conn *liveConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers := h.subscribers[conn.jurorID]
	if subscribers == nil {
		return
	}
	delete(subscribers, conn.id)
	if len(subscribers) == 0 {
		delete(h.subscribers, conn.jurorID)
	}
}

func (h *liveHub) connectionsOf(jurorID string) []*liveConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*liveConn, 0, len(h.subscribers[jurorID]))
	for _, conn := range h.subscribers[jurorID] {
		conns = append(conns, conn)
	}
	return conns
}

func (h *liveHub) all() []*liveConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var conns []*liveConn
	for _, subscribers := range h.subscribers {
		for _, conn := range subscribers {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (h *liveHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, subscribers := range h.subscribers {
		total += len(subscribers)
	}
	return total
}

// publishSnapshot pushes the juror's current snapshot to each of their sockets.
func (h *liveHub) publishSnapshot(jurorID string, snapshot scoring.Snapshot) {
	message, err := snapshotMessage(snapshot)
	if err != nil {
		h.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	for _, conn := range h.connectionsOf(jurorID) {
		if err := conn.write(message); err != nil {
			h.logger.Warn("snapshot push failed", zap.Int64("connection_id", conn.id), zap.Error(err))
		}
	}
}

// dropAll closes every socket with a going-away frame.
func (h *liveHub) dropAll() int {
	conns := h.all()
	for _, conn := range conns {
		conn.closeWith(websocket.CloseGoingAway, closeReasonDrop)
	}
	return len(conns)
}

func snapshotMessage(snapshot scoring.Snapshot) (outboundMessage, error) {
	payload, err := json.Marshal(struct {
		Participants []scoring.Participant `json:"participants"`
		Criteria     []scoring.Criterion   `json:"criteria"`
		Scores       []scoring.Score       `json:"scores"`
	}{snapshot.Participants, snapshot.Criteria, snapshot.Scores})
	if err != nil {
		return outboundMessage{}, err
	}
	return outboundMessage{Type: live.TypeSnapshot, Payload: payload}, nil
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent)
}
