package transport

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"chat-client/models"
)

// Conn wraps one live websocket and the acks pending on it. It is created
// and torn down by the Manager; nothing else holds a reference to it.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan models.Ack
	failed  error

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:      ws,
		pending: make(map[string]chan models.Ack),
	}
}

func (c *Conn) writeFrame(f models.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) readFrame() (models.Frame, error) {
	var f models.Frame
	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(payload, &f)
	return f, err
}

// addPending registers an ack channel for a frame id. It fails immediately
// if the connection already died, so a Call racing the teardown never
// blocks until its timeout.
func (c *Conn) addPending(id string) (chan models.Ack, error) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	if c.failed != nil {
		return nil, c.failed
	}
	ch := make(chan models.Ack, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Conn) removePending(id string) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	delete(c.pending, id)
}

// deliverAck routes an ack frame to the caller waiting on its id. Acks for
// ids no longer pending (timed out, cancelled) are dropped.
func (c *Conn) deliverAck(f models.Frame) {
	var ack models.Ack
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			return
		}
	}
	c.pendMu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.pendMu.Unlock()
	if ok {
		ch <- ack
	}
}

// failPending closes out every waiter after the socket dies. The pending
// map stops accepting entries from that point on.
func (c *Conn) failPending(err error) {
	c.pendMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan models.Ack)
	c.failed = err
	c.pendMu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.ws.Close()
	})
}
