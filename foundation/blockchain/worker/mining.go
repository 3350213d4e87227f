package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ardanlabs/gossipledger/foundation/blockchain/block"
)

// miningOperations handles mining.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case req := <-w.requests:
			if w.isShutdown() {
				req.result <- result{err: ErrShutdown}
				continue
			}
			b, err := w.runMiningOperation(req)
			req.result <- result{block: b, err: err}

		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			w.drain()
			return
		}
	}
}

// runMiningOperation mines one block and appends it to the chain.
func (w *Worker) runMiningOperation(req request) (block.Block, error) {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	// The caller may have already walked away.
	if err := req.ctx.Err(); err != nil {
		w.evHandler("worker: runMiningOperation: MINING: request abandoned")
		return block.Block{}, err
	}

	// Create a context so mining can be cancelled by the caller or
	// by a shutdown of the worker.
	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the mining operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case <-w.shut:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
		case <-ctx.Done():
		}
	}()

	// This G is performing the mining.
	var b block.Block
	var err error
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		t := time.Now()
		b, err = w.chain.MineNextBlock(ctx, req.data)
		duration := time.Since(t)

		w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

		if err != nil {
			switch {
			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			}
			return
		}

		w.evHandler("worker: runMiningOperation: MINING: block[%d] hash[%s]", b.Height, b.Hash)
	}()

	// Wait for both G's to terminate.
	wg.Wait()

	return b, err
}

// drain fails any request still sitting in the queue.
func (w *Worker) drain() {
	for {
		select {
		case req := <-w.requests:
			req.result <- result{err: ErrShutdown}
		default:
			return
		}
	}
}
