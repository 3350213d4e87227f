package gossip_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/gossipledger/foundation/blockchain/gossip"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// recorder keeps every broadcast payload a node delivered, by id.
type recorder struct {
	mu  sync.Mutex
	got map[string][]string
}

func newRecorder() *recorder {
	return &recorder{got: make(map[string][]string)}
}

func (r *recorder) record(msg gossip.Broadcast) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.got[msg.ID] = append(r.got[msg.ID], msg.Text())
}

func (r *recorder) payloads(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.got[id])
}

func newNode(t *testing.T, id string, rec *recorder) *gossip.Node {
	cfg := gossip.Config{
		ID:   id,
		Host: "127.0.0.1:0",
	}
	if rec != nil {
		cfg.OnBroadcast = rec.record
	}

	n, err := gossip.New(cfg)
	if err != nil {
		t.Fatalf("Should be able to start node %s: %s", id, err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n.Shutdown(ctx)
	})

	return n
}

func connect(t *testing.T, from *gossip.Node, to *gossip.Node) {
	if err := from.Connect(context.Background(), to.Address()); err != nil {
		t.Fatalf("Should be able to connect %s to %s: %s", from.ID(), to.ID(), err)
	}
}

func waitFor(t *testing.T, what string, fn func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("\t%s\tTimed out waiting for %s.", failed, what)
}

func countID(ids []string, id string) int {
	var n int
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

// settle gives in flight relays time to arrive before asserting that
// nothing else happened.
func settle() {
	time.Sleep(200 * time.Millisecond)
}

// =============================================================================

func Test_Handshake(t *testing.T) {
	a := newNode(t, "A", nil)
	b := newNode(t, "B", nil)

	t.Log("Given the need for two nodes to learn about each other.")
	{
		connect(t, b, a)

		waitFor(t, "both peer sets", func() bool {
			return len(a.Peers()) == 1 && len(b.Peers()) == 1
		})
		t.Logf("\t%s\tShould register a peer on both sides.", success)

		if a.Peers()[0] != b.Peers()[0] {
			t.Logf("\t%s\tgot: %s", failed, b.Peers()[0])
			t.Logf("\t%s\texp: %s", failed, a.Peers()[0])
			t.Fatalf("\t%s\tShould converge on the same peer key.", failed)
		}
		t.Logf("\t%s\tShould converge on the same peer key.", success)

		waitFor(t, "handshake-back", func() bool {
			return slices.Contains(a.KnownAddresses(), b.Address())
		})
		t.Logf("\t%s\tShould learn the dialer's address from handshake-back.", success)

		if !slices.Contains(b.KnownAddresses(), a.Address()) {
			t.Fatalf("\t%s\tShould remember the dialed address.", failed)
		}
		t.Logf("\t%s\tShould remember the dialed address.", success)

		connect(t, b, a)
		settle()
		if len(a.Peers()) != 1 || len(b.Peers()) != 1 {
			t.Fatalf("\t%s\tShould skip a second dial to a known address, got %d and %d peers.", failed, len(a.Peers()), len(b.Peers()))
		}
		t.Logf("\t%s\tShould skip a second dial to a known address.", success)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Shutdown(ctx); err != nil {
			t.Fatalf("\t%s\tShould be able to shut down: %s", failed, err)
		}

		if len(b.Peers()) != 0 || len(b.KnownAddresses()) != 0 {
			t.Fatalf("\t%s\tShould clear peers and known addresses on shutdown.", failed)
		}
		t.Logf("\t%s\tShould clear peers and known addresses on shutdown.", success)

		waitFor(t, "peer removal", func() bool {
			return len(a.Peers()) == 0 && len(a.KnownAddresses()) == 0
		})
		t.Logf("\t%s\tShould remove the closed peer from the other side.", success)
	}
}

func Test_BroadcastScenario(t *testing.T) {
	recA, recB, recC := newRecorder(), newRecorder(), newRecorder()

	a := newNode(t, "A", recA)
	b := newNode(t, "B", recB)
	c := newNode(t, "C", recC)

	t.Log("Given the need to flood a broadcast across a star.")
	{
		connect(t, b, a)
		connect(t, c, a)

		waitFor(t, "star", func() bool {
			return len(a.Peers()) == 2 && len(b.Peers()) == 1 && len(c.Peers()) == 1
		})

		if err := a.Broadcast("m1", "ping"); err != nil {
			t.Fatalf("\t%s\tShould be able to broadcast: %s", failed, err)
		}

		waitFor(t, "delivery", func() bool {
			return len(recB.payloads("m1")) == 1 && len(recC.payloads("m1")) == 1
		})
		settle()

		for _, tst := range []struct {
			name string
			node *gossip.Node
			rec  *recorder
			exp  int
		}{
			{"A", a, recA, 0},
			{"B", b, recB, 1},
			{"C", c, recC, 1},
		} {
			got := tst.rec.payloads("m1")
			if len(got) != tst.exp {
				t.Fatalf("\t%s\tNode %s should deliver the payload %d times, got %d.", failed, tst.name, tst.exp, len(got))
			}
			if tst.exp == 1 && got[0] != "ping" {
				t.Fatalf("\t%s\tNode %s should deliver ping, got %s.", failed, tst.name, got[0])
			}
			if n := countID(tst.node.MessageIDs(), "m1"); n != 1 {
				t.Fatalf("\t%s\tNode %s should record m1 once, got %d.", failed, tst.name, n)
			}
			t.Logf("\t%s\tNode %s should see m1 exactly once.", success, tst.name)
		}
	}
}

func Test_BroadcastMesh(t *testing.T) {
	recA, recB, recC := newRecorder(), newRecorder(), newRecorder()

	a := newNode(t, "A", recA)
	b := newNode(t, "B", recB)
	c := newNode(t, "C", recC)

	t.Log("Given the need to suppress duplicates in a fully connected mesh.")
	{
		connect(t, b, a)
		connect(t, c, a)
		connect(t, c, b)

		waitFor(t, "mesh", func() bool {
			return len(a.Peers()) == 2 && len(b.Peers()) == 2 && len(c.Peers()) == 2
		})

		for _i := 0; _i < 2; _i++ {
			if err := a.Broadcast("dup", "hello"); err != nil {
				t.Fatalf("\t%s\tShould be able to broadcast: %s", failed, err)
			}
		}

		waitFor(t, "delivery", func() bool {
			return len(recB.payloads("dup")) == 1 && len(recC.payloads("dup")) == 1
		})
		settle()

		for _, n := range []*gossip.Node{a, b, c} {
			if got := countID(n.MessageIDs(), "dup"); got != 1 {
				t.Fatalf("\t%s\tNode %s should record the id once, got %d.", failed, n.ID(), got)
			}
		}
		t.Logf("\t%s\tShould record the id once on every node.", success)

		if len(recA.payloads("dup")) != 0 || len(recB.payloads("dup")) != 1 || len(recC.payloads("dup")) != 1 {
			t.Fatalf("\t%s\tShould deliver the payload once per receiving node.", failed)
		}
		t.Logf("\t%s\tShould deliver the payload once per receiving node.", success)
	}
}

func Test_HistoryEviction(t *testing.T) {
	rec := newRecorder()
	a := newNode(t, "A", rec)

	conn, _, err := websocket.DefaultDialer.Dial(a.Address(), nil)
	if err != nil {
		t.Fatalf("Should be able to dial the node: %s", err)
	}
	defer conn.Close()

	read := func() string {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read a frame: %s", failed, err)
		}
		return string(data)
	}

	write := func(frame string) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("\t%s\tShould be able to write a frame: %s", failed, err)
		}
	}

	frame := func(i int) string {
		return fmt.Sprintf(`{"type":"broadcast","id":"id-%d","from":"client","message":"m%d","hop":1}`, i, i)
	}

	t.Log("Given the need to forget broadcast ids beyond the history size.")
	{
		msg, err := gossip.Decode([]byte(read()))
		if err != nil {
			t.Fatalf("\t%s\tShould receive a handshake: %s", failed, err)
		}
		hs, ok := msg.(gossip.Handshake)
		if !ok || hs.Address != conn.LocalAddr().String() || hs.From != a.Address() {
			t.Fatalf("\t%s\tShould receive the transport address and the node address, got %#v.", failed, msg)
		}
		t.Logf("\t%s\tShould receive a handshake on connect.", success)

		for i := 0; i < gossip.DefaultHistorySize+1; i++ {
			write(frame(i))
			if got := read(); got != frame(i) {
				t.Logf("\t%s\tgot: %s", failed, got)
				t.Logf("\t%s\texp: %s", failed, frame(i))
				t.Fatalf("\t%s\tShould forward the envelope unmodified back to the sender.", failed)
			}
		}
		t.Logf("\t%s\tShould forward new ids to every peer including the sender.", success)

		// None of these produce a frame. The next frame read has to be the
		// re-forwarded evicted id.
		write(`garbage`)
		write(`{"type":"chat","text":"hi"}`)
		write(frame(10))
		write(frame(0))

		if got := read(); got != frame(0) {
			t.Logf("\t%s\tgot: %s", failed, got)
			t.Logf("\t%s\texp: %s", failed, frame(0))
			t.Fatalf("\t%s\tShould drop duplicates and re-forward an evicted id.", failed)
		}
		t.Logf("\t%s\tShould drop duplicates and re-forward an evicted id.", success)

		if n := len(rec.payloads("id-0")); n != 2 {
			t.Fatalf("\t%s\tShould deliver the evicted id again, got %d deliveries.", failed, n)
		}
		t.Logf("\t%s\tShould deliver the evicted id again.", success)

		if a.Seen("id-1") || !a.Seen("id-0") {
			t.Fatalf("\t%s\tShould evict the oldest id to make room.", failed)
		}
		t.Logf("\t%s\tShould evict the oldest id to make room.", success)
	}
}

func Test_Connect(t *testing.T) {
	a := newNode(t, "A", nil)

	for _, address := range []string{"http://localhost:9080", "ws://", "::bad"} {
		if err := a.Connect(context.Background(), address); !errors.Is(err, gossip.ErrInvalidAddress) {
			t.Fatalf("Should reject %q, got %v.", address, err)
		}
	}

	// Nothing listens on port 1, the failure is only logged.
	if err := a.Connect(context.Background(), "ws://127.0.0.1:1"); err != nil {
		t.Fatalf("Should not return transport failures: %s", err)
	}

	if len(a.KnownAddresses()) != 0 {
		t.Fatalf("Should scrub an address that couldn't be dialed, got %v.", a.KnownAddresses())
	}
}

func Test_BroadcastNew(t *testing.T) {
	a := newNode(t, "A", nil)

	if err := a.Broadcast("", "empty"); !errors.Is(err, gossip.ErrEmptyID) {
		t.Fatalf("Should reject an empty id, got %v.", err)
	}

	id, err := a.BroadcastNew("hello")
	if err != nil {
		t.Fatalf("Should be able to broadcast: %s", err)
	}

	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("Should generate a uuid, got %s.", id)
	}

	if !a.Seen(id) {
		t.Fatal("Should self register the id before fanning out.")
	}
}

func Test_Shutdown(t *testing.T) {
	a := newNode(t, "A", nil)

	conn, _, err := websocket.DefaultDialer.Dial(a.Address(), nil)
	if err != nil {
		t.Fatalf("Should be able to dial the node: %s", err)
	}
	defer conn.Close()

	waitFor(t, "inbound peer", func() bool { return len(a.Peers()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Should be able to shut down: %s", err)
	}

	if len(a.Peers()) != 0 {
		t.Fatalf("Should clear the peers, got %v.", a.Peers())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	if _, _, err := websocket.DefaultDialer.Dial(a.Address(), nil); err == nil {
		t.Fatal("Should release the listening endpoint.")
	}

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Should tolerate a second shutdown: %s", err)
	}
}

func Test_OpaquePayload(t *testing.T) {
	recA := newRecorder()
	recB := newRecorder()
	a := newNode(t, "A", recA)
	b := newNode(t, "B", recB)

	connect(t, b, a)
	waitFor(t, "B registered with A", func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	})

	conn, _, err := websocket.DefaultDialer.Dial(a.Address(), nil)
	if err != nil {
		t.Fatalf("Should be able to dial the node: %s", err)
	}
	defer conn.Close()

	read := func() string {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read a frame: %s", failed, err)
		}
		return string(data)
	}

	// The first frame is the handshake.
	read()

	tt := []struct {
		id    string
		frame string
		text  string
	}{
		{"obj", `{"type":"broadcast","id":"obj","from":"client","message":{"k":1}}`, `{"k":1}`},
		{"num", `{"type":"broadcast","id":"num","from":"client","message":42}`, `42`},
		{"arr", `{"type":"broadcast","id":"arr","from":"client","message":["x",null]}`, `["x",null]`},
	}

	t.Log("Given broadcasts whose payload is not a string.")
	{
		for testID, test := range tt {
			t.Logf("\tTest %d:\tWhen sending payload %s.", testID, test.text)
			{
				if err := conn.WriteMessage(websocket.TextMessage, []byte(test.frame)); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to write a frame: %s", failed, testID, err)
				}

				if got := read(); got != test.frame {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, got)
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, test.frame)
					t.Fatalf("\t%s\tTest %d:\tShould relay the envelope unmodified.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould relay the envelope unmodified.", success, testID)

				if !a.Seen(test.id) {
					t.Fatalf("\t%s\tTest %d:\tShould record the id.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould record the id.", success, testID)

				waitFor(t, "B to receive "+test.id, func() bool {
					return len(recB.payloads(test.id)) == 1
				})
				if got := recB.payloads(test.id)[0]; got != test.text {
					t.Fatalf("\t%s\tTest %d:\tShould deliver the payload to B as %s: got %s", failed, testID, test.text, got)
				}
				t.Logf("\t%s\tTest %d:\tShould flood the payload to other peers.", success, testID)

				if got := recA.payloads(test.id); len(got) != 1 || got[0] != test.text {
					t.Fatalf("\t%s\tTest %d:\tShould deliver the payload once on A: got %v", failed, testID, got)
				}
				t.Logf("\t%s\tTest %d:\tShould deliver the payload once on A.", success, testID)
			}
		}
	}
}

func Test_CloseKeepsLiveAddress(t *testing.T) {
	a := newNode(t, "A", nil)
	b := newNode(t, "B", nil)

	t.Log("Given an address known through two channels.")
	{
		connect(t, a, b)
		waitFor(t, "A and B registered", func() bool {
			return len(a.Peers()) == 1 && len(b.Peers()) == 1
		})

		// A second channel into A advertises the same address B is
		// already dialed under.
		conn, _, err := websocket.DefaultDialer.Dial(a.Address(), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to dial the node: %s", failed, err)
		}
		data, err := gossip.Encode(gossip.NewHandshakeBack(b.Address()))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode: %s", failed, err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("\t%s\tShould be able to write a frame: %s", failed, err)
		}
		waitFor(t, "the second channel", func() bool {
			return len(a.Peers()) == 2
		})
		settle()

		conn.Close()
		waitFor(t, "the second channel to close", func() bool {
			return len(a.Peers()) == 1
		})
		t.Logf("\t%s\tShould forget the closed channel.", success)

		if known := a.KnownAddresses(); !slices.Contains(known, b.Address()) {
			t.Fatalf("\t%s\tShould keep the address of the live channel: got %v", failed, known)
		}
		t.Logf("\t%s\tShould keep the address of the live channel.", success)

		connect(t, a, b)
		settle()
		if n := len(b.Peers()); n != 1 {
			t.Fatalf("\t%s\tShould not open a duplicate channel: B has %d peers", failed, n)
		}
		t.Logf("\t%s\tShould not open a duplicate channel.", success)
	}
}
