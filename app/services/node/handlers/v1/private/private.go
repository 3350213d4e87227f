// Package private maintains the group of handlers for gossip peer management.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ardanlabs/gossipledger/business/web/errs"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/gossip"
	"github.com/ardanlabs/gossipledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of peer endpoints.
type Handlers struct {
	Log  *zap.SugaredLogger
	Node *gossip.Node
}

// Peers returns the connected peers, the known outbound addresses and the
// broadcast ids this node remembers.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := status{
		ID:        h.Node.ID(),
		Address:   h.Node.Address(),
		Peers:     h.Node.Peers(),
		Known:     h.Node.KnownAddresses(),
		MessageID: h.Node.MessageIDs(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Connect asks the node to open a channel to the specified address. A dial
// failure is only reported in the node's logs, so the response confirms the
// request was handled and GET /v1/peers shows the outcome.
func (h Handlers) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var np newPeer
	if err := web.Decode(r, &np); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("connect peer", "traceid", web.GetTraceID(ctx), "address", np.Address)

	if err := h.Node.Connect(ctx, np.Address); err != nil {
		if errors.Is(err, gossip.ErrInvalidAddress) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return fmt.Errorf("connect %s: %w", np.Address, err)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "connect requested for " + np.Address,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Broadcast floods a new message through the network.
func (h Handlers) Broadcast(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nb newBroadcast
	if err := web.Decode(r, &nb); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	id, err := h.Node.BroadcastNew(nb.Message)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	h.Log.Infow("broadcast", "traceid", web.GetTraceID(ctx), "id", id)

	resp := struct {
		ID string `json:"id"`
	}{
		ID: id,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
