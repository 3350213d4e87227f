// Package worker serializes mining requests against the blockchain so only
// one proof of work search runs at a time.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ardanlabs/gossipledger/foundation/blockchain/block"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/chain"
)

// maxMiningRequests represents the max number of pending mining requests
// that can be queued before callers are told to come back later.
const maxMiningRequests = 10

// Set of error variables for the worker.
var (
	ErrShutdown  = errors.New("worker is shutting down")
	ErrQueueFull = errors.New("mining queue is full")
)

// =============================================================================

// request represents a single ask to mine a block with the specified data.
type request struct {
	ctx    context.Context
	data   string
	result chan result
}

// result is what the mining goroutine hands back to the caller.
type result struct {
	block block.Block
	err   error
}

// Worker manages the mining workflow for the blockchain.
type Worker struct {
	chain     *chain.Blockchain
	wg        sync.WaitGroup
	shut      chan struct{}
	requests  chan request
	evHandler block.EventHandler
}

// Run creates a worker and starts up the mining goroutine.
func Run(bc *chain.Blockchain, evHandler block.EventHandler) *Worker {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	w := Worker{
		chain:     bc,
		shut:      make(chan struct{}),
		requests:  make(chan request, maxMiningRequests),
		evHandler: ev,
	}

	// We don't want to return until we know the G is up and running.
	hasStarted := make(chan bool)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		hasStarted <- true
		w.miningOperations()
	}()

	<-hasStarted

	return &w
}

// Shutdown terminates the goroutine performing work. Any mining operation
// in flight is cancelled and pending requests are failed.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	select {
	case <-w.shut:
		return
	default:
	}

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// Mine queues a request to mine a block carrying the specified data and
// waits for the block to be appended to the chain.
func (w *Worker) Mine(ctx context.Context, data string) (block.Block, error) {
	if w.isShutdown() {
		return block.Block{}, ErrShutdown
	}

	req := request{
		ctx:    ctx,
		data:   data,
		result: make(chan result, 1),
	}

	select {
	case w.requests <- req:
		w.evHandler("worker: Mine: mining signaled")
	default:
		w.evHandler("worker: Mine: queue full, block won't be mined")
		return block.Block{}, ErrQueueFull
	}

	select {
	case res := <-req.result:
		return res.block, res.err
	case <-ctx.Done():
		return block.Block{}, ctx.Err()
	case <-w.shut:
		return block.Block{}, ErrShutdown
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
