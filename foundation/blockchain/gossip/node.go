// Package gossip implements a peer that keeps websocket channels open to
// other peers and floods broadcast messages across them. Duplicate delivery
// is suppressed by remembering the ids of recently seen broadcasts.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/gossipledger/foundation/blockchain/peer"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Set of error variables for node operations.
var (
	ErrInvalidAddress = errors.New("invalid peer address")
	ErrEmptyID        = errors.New("broadcast id is empty")
)

const (
	// writeWait bounds how long a single frame write may take before the
	// channel is considered broken.
	writeWait = 10 * time.Second

	// dialTimeout bounds the websocket opening handshake for outbound dials.
	dialTimeout = 10 * time.Second
)

// EventHandler defines a function that is called when events
// occur in the processing of channels and messages.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to start a node.
type Config struct {
	ID          string
	Host        string // Listen address, 127.0.0.1:0 picks a free port.
	PublicHost  string // Advertised host:port, defaults to the listener.
	HistorySize int
	OnBroadcast func(msg Broadcast)
	EvHandler   EventHandler
}

// Node owns one listening endpoint and the set of peer channels opened
// through it or dialed from it.
type Node struct {
	id          string
	address     string
	listener    net.Listener
	server      *http.Server
	dialer      websocket.Dialer
	upgrader    websocket.Upgrader
	evHandler   EventHandler
	onBroadcast func(msg Broadcast)

	mu       sync.RWMutex
	peers    map[string]*channel
	channels map[*channel]struct{}
	targets  *peer.PeerSet
	history  *History

	wg   sync.WaitGroup
	shut chan struct{}
}

// New constructs a node and starts accepting channels on the configured host.
func New(cfg Config) (*Node, error) {
	l, err := net.Listen("tcp", cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Host, err)
	}

	publicHost := cfg.PublicHost
	if publicHost == "" {
		publicHost = dialableHost(l.Addr())
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler("gossip: node[%s]: "+v, append([]any{cfg.ID}, args...)...)
		}
	}

	onBroadcast := cfg.OnBroadcast
	if onBroadcast == nil {
		onBroadcast = func(Broadcast) {}
	}

	n := Node{
		id:          cfg.ID,
		address:     "ws://" + publicHost,
		listener:    l,
		dialer:      websocket.Dialer{HandshakeTimeout: dialTimeout},
		evHandler:   ev,
		onBroadcast: onBroadcast,
		peers:       make(map[string]*channel),
		channels:    make(map[*channel]struct{}),
		targets:     peer.NewPeerSet(),
		history:     NewHistory(cfg.HistorySize),
		shut:        make(chan struct{}),
	}

	// Peers are not browsers, any origin is accepted.
	n.upgrader.CheckOrigin = func(r *http.Request) bool { return true }

	mux := http.NewServeMux()
	mux.HandleFunc("/", n.accept)
	n.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: dialTimeout,
	}

	go func() {
		if err := n.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.evHandler("Serve: ERROR: %s", err)
		}
	}()

	n.evHandler("running on %s", n.address)

	return &n, nil
}

// Shutdown closes every peer channel, forgets all peers and known addresses
// and releases the listening endpoint.
func (n *Node) Shutdown(ctx context.Context) error {
	n.evHandler("Shutdown: started")
	defer n.evHandler("Shutdown: completed")

	// Closing shut under the lock guarantees track can't add to the wait
	// group once we start waiting on it.
	n.mu.Lock()
	if n.isShutdown() {
		n.mu.Unlock()
		return nil
	}
	close(n.shut)
	n.mu.Unlock()

	// Stop accepting new channels. Upgraded connections are hijacked and
	// are not tracked by the server, they are closed below.
	if err := n.server.Shutdown(ctx); err != nil {
		n.evHandler("Shutdown: server: ERROR: %s", err)
	}

	n.mu.RLock()
	for ch := range n.channels {
		n.evHandler("Shutdown: closing channel with %s", ch.key)
		ch.close()
	}
	n.mu.RUnlock()

	// Wait for the read loops to observe the closed channels.
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	n.mu.Lock()
	n.peers = make(map[string]*channel)
	n.channels = make(map[*channel]struct{})
	n.mu.Unlock()

	n.targets.Reset()

	return err
}

// =============================================================================

// Connect dials the specified peer address unless it is already a known
// target. Transport failures are reported through the event handler, only a
// malformed address is returned as an error.
func (n *Node) Connect(ctx context.Context, address string) error {
	n.evHandler("Connect: started: address[%s]", address)
	defer n.evHandler("Connect: completed: address[%s]", address)

	u, err := url.Parse(address)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}

	if n.isShutdown() {
		n.evHandler("Connect: node is shut down")
		return nil
	}

	target := peer.New(address)
	if !n.targets.Add(target) {
		n.evHandler("Connect: connection already exists: address[%s]", address)
		return nil
	}

	conn, _, err := n.dialer.DialContext(ctx, address, nil)
	if err != nil {
		n.evHandler("Connect: dial: ERROR: %s", err)
		n.targets.Remove(target)
		return nil
	}

	ch := newChannel(conn, address, false)
	if !n.track(ch) {
		ch.close()
		n.targets.Remove(target)
		return nil
	}

	n.evHandler("Connect: connected to peer: address[%s]", address)

	go func() {
		defer n.wg.Done()
		n.readLoop(ch)
	}()

	// Let the peer know where this node can be dialed.
	n.send(ch, NewHandshakeBack(n.address))

	return nil
}

// Broadcast sends a message with the specified id to every connected peer.
// The id is recorded first so the copies relayed back to this node are
// dropped as duplicates.
func (n *Node) Broadcast(id string, message string) error {
	if id == "" {
		return ErrEmptyID
	}

	n.history.Add(id)

	n.evHandler("Broadcast: id[%s]: message[%s]", id, message)

	n.fanOut(NewBroadcast(id, n.address, message))

	return nil
}

// BroadcastNew sends a message under a freshly generated id and
// returns the id.
func (n *Node) BroadcastNew(message string) (string, error) {
	id := uuid.NewString()
	if err := n.Broadcast(id, message); err != nil {
		return "", err
	}

	return id, nil
}

// =============================================================================

// ID returns the label of the node used in logs.
func (n *Node) ID() string {
	return n.id
}

// Address returns the dialable address of the node.
func (n *Node) Address() string {
	return n.address
}

// Peers returns the sorted keys of the currently registered peers.
func (n *Node) Peers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	keys := make([]string, 0, len(n.peers))
	for key := range n.peers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// KnownAddresses returns the addresses this node has dialed or has
// been told it can dial.
func (n *Node) KnownAddresses() []string {
	peers := n.targets.Copy("")

	addrs := make([]string, len(peers))
	for i, p := range peers {
		addrs[i] = p.Address
	}

	return addrs
}

// MessageIDs returns the remembered broadcast ids, oldest first.
func (n *Node) MessageIDs() []string {
	return n.history.Copy()
}

// Seen reports whether the broadcast id is in the history.
func (n *Node) Seen(id string) bool {
	return n.history.Contains(id)
}

// =============================================================================

// accept upgrades an inbound request into a peer channel. The peer is
// registered under its transport address and told that address along with
// this node's dialable address.
func (n *Node) accept(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.evHandler("accept: upgrade: ERROR: %s", err)
		return
	}

	id := r.RemoteAddr
	n.evHandler("accept: connection with %s", id)

	ch := newChannel(conn, id, true)
	if !n.track(ch) {
		ch.close()
		return
	}

	n.mu.Lock()
	n.peers[id] = ch
	n.mu.Unlock()

	n.send(ch, NewHandshake(id, n.address))

	defer n.wg.Done()
	n.readLoop(ch)
}

// track records the channel so shutdown can close it and wait on its read
// loop. It reports false when the node is already shut down, otherwise the
// caller owns a wait group slot released when the read loop returns.
func (n *Node) track(ch *channel) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isShutdown() {
		return false
	}

	n.channels[ch] = struct{}{}
	n.wg.Add(1)

	return true
}

// readLoop processes frames from the channel in arrival order until the
// channel is closed.
func (n *Node) readLoop(ch *channel) {
	defer n.removeChannel(ch)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				n.evHandler("readLoop: %s: ERROR: %s", ch.key, err)
			}
			n.evHandler("readLoop: connection with %s closed", ch.key)
			return
		}

		n.handle(ch, data)
	}
}

// handle applies a single frame received on the channel.
func (n *Node) handle(ch *channel, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		n.evHandler("handle: %s: dropped: %s", ch.key, err)
		return
	}

	switch m := msg.(type) {
	case Handshake:

		// Converge on the key carried in the message. Any key this channel
		// was registered under before is dropped.
		n.mu.Lock()
		for key, c := range n.peers {
			if c == ch {
				delete(n.peers, key)
			}
		}
		n.peers[m.Address] = ch
		n.mu.Unlock()

		n.evHandler("handle: handshake: registered peer[%s]: from[%s]", m.Address, m.From)

	case HandshakeBack:
		ch.setAdvertised(m.Address)
		if n.targets.Add(peer.New(m.Address)) {
			n.evHandler("handle: handshake-back: known address[%s]", m.Address)
		}

	case Broadcast:
		if !n.history.Add(m.ID) {
			return
		}

		n.evHandler("handle: received broadcast from %s: id[%s]: message[%s]", m.From, m.ID, m.Text())

		n.onBroadcast(m)
		n.fanOut(m)

	case Unknown:
		n.evHandler("handle: received message from %s: %s", ch.key, m.Raw)
	}
}

// fanOut sends the message to every registered peer. A failed send closes
// that channel and does not stop delivery to the others.
func (n *Node) fanOut(msg Message) {
	data, err := Encode(msg)
	if err != nil {
		n.evHandler("fanOut: encode: ERROR: %s", err)
		return
	}

	n.mu.RLock()
	chs := make([]*channel, 0, len(n.peers))
	seen := make(map[*channel]struct{}, len(n.peers))
	for _, ch := range n.peers {
		if _, exists := seen[ch]; exists {
			continue
		}
		seen[ch] = struct{}{}
		chs = append(chs, ch)
	}
	n.mu.RUnlock()

	for _, ch := range chs {
		if err := ch.write(data); err != nil {
			n.evHandler("fanOut: %s: ERROR: %s", ch.key, err)
			ch.close()
		}
	}
}

// send encodes and writes a single message to the channel.
func (n *Node) send(ch *channel, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		n.evHandler("send: encode: ERROR: %s", err)
		return
	}

	if err := ch.write(data); err != nil {
		n.evHandler("send: %s: ERROR: %s", ch.key, err)
		ch.close()
	}
}

// removeChannel forgets every peer entry for the channel and scrubs the
// addresses associated with it from the known targets. An address another
// live channel is still tied to stays known.
func (n *Node) removeChannel(ch *channel) {
	ch.close()

	var addrs []string
	if !ch.inbound {
		addrs = append(addrs, ch.key)
	}
	if advertised := ch.advertisedAddress(); advertised != "" {
		addrs = append(addrs, advertised)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.channels, ch)
	for key, c := range n.peers {
		if c == ch {
			delete(n.peers, key)
		}
	}

	for _, addr := range addrs {
		if n.addressInUse(addr) {
			n.evHandler("removeChannel: address[%s] still in use", addr)
			continue
		}
		n.targets.Remove(peer.New(addr))
	}
}

// addressInUse reports whether a tracked channel was dialed to the address
// or had the address advertised on it. The caller must hold n.mu.
func (n *Node) addressInUse(addr string) bool {
	for c := range n.channels {
		if !c.inbound && c.key == addr {
			return true
		}
		if c.advertisedAddress() == addr {
			return true
		}
	}

	return false
}

// isShutdown is used to test if a shutdown has been signaled.
func (n *Node) isShutdown() bool {
	select {
	case <-n.shut:
		return true
	default:
		return false
	}
}

// dialableHost converts a listener address into a host:port other
// local processes can dial.
func dialableHost(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "localhost"
	}

	return net.JoinHostPort(host, port)
}
