// Package public maintains the group of handlers for public ledger access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/gossipledger/business/sys/metrics"
	"github.com/ardanlabs/gossipledger/business/web/errs"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/chain"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/worker"
	"github.com/ardanlabs/gossipledger/foundation/events"
	"github.com/ardanlabs/gossipledger/foundation/web"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of ledger endpoints.
type Handlers struct {
	Log         *zap.SugaredLogger
	Chain       *chain.Blockchain
	Worker      *worker.Worker
	MineTimeout time.Duration
	WS          websocket.Upgrader
	Evts        *events.Events
}

// Blockchain returns every block in the chain starting with genesis.
func (h Handlers) Blockchain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := ledger{
		Length: h.Chain.Length(),
		Blocks: h.Chain.Blocks(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Block returns the block at the specified height.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := strconv.ParseUint(web.Param(r, "height"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid height %q", web.Param(r, "height")), http.StatusBadRequest)
	}

	b, err := h.Chain.Block(height)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return fmt.Errorf("query block[%d]: %w", height, err)
	}

	return web.Respond(ctx, w, b, http.StatusOK)
}

// Validate reports whether the whole chain passes the integrity check.
func (h Handlers) Validate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := validation{
		Valid:  h.Chain.IsValid(),
		Length: h.Chain.Length(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// NextBlock mines a block carrying a random payload and appends it.
func (h Handlers) NextBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.mine(ctx, w, uuid.NewString())
}

// AddBlock mines a block carrying the posted data and appends it.
func (h Handlers) AddBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nb newBlock
	if err := web.Decode(r, &nb); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return h.mine(ctx, w, nb.Data)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// =============================================================================

// mine hands the data to the mining worker and responds with the new block.
// Mining is abandoned once MineTimeout passes so the client still gets a
// response before the server's write deadline.
func (h Handlers) mine(ctx context.Context, w http.ResponseWriter, data string) error {
	mineCtx := ctx
	if h.MineTimeout > 0 {
		var cancel context.CancelFunc
		mineCtx, cancel = context.WithTimeout(ctx, h.MineTimeout)
		defer cancel()
	}

	b, err := h.Worker.Mine(mineCtx, data)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return errs.NewTrusted(fmt.Errorf("mining took longer than %v", h.MineTimeout), http.StatusServiceUnavailable)
		case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrShutdown):
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		case errors.Is(err, chain.ErrInvalidProof), errors.Is(err, chain.ErrChainForked):
			return errs.NewTrusted(err, http.StatusConflict)
		}
		return fmt.Errorf("mining block: %w", err)
	}

	metrics.AddMined()
	h.Log.Infow("mined block", "traceid", web.GetTraceID(ctx), "height", b.Height, "hash", b.Hash)

	return web.Respond(ctx, w, b, http.StatusCreated)
}
