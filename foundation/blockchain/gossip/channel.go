package gossip

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// channel is a single websocket connection to a peer. Writes are
// serialized since a websocket connection allows one concurrent writer.
type channel struct {
	conn    *websocket.Conn
	key     string // Transport address for inbound, dialed address for outbound.
	inbound bool

	mu         sync.Mutex
	advertised string

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn, key string, inbound bool) *channel {
	return &channel{
		conn:    conn,
		key:     key,
		inbound: inbound,
	}
}

// write sends a single text frame.
func (ch *channel) write(data []byte) error {
	ch.wmu.Lock()
	defer ch.wmu.Unlock()

	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

// close releases the connection. The read loop for the channel returns
// once the connection is closed.
func (ch *channel) close() {
	ch.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		ch.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ch.conn.Close()
	})
}

func (ch *channel) setAdvertised(address string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.advertised = address
}

func (ch *channel) advertisedAddress() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.advertised
}
