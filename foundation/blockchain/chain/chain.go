// Package chain maintains the ordered, append-only sequence of mined blocks
// for a single process and provides the full chain integrity check.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/gossipledger/foundation/blockchain/block"
)

// Set of error variables for chain operations.
var (
	ErrInvalidProof = errors.New("invalid block proof")
	ErrNotFound     = errors.New("block not found")
	ErrChainForked  = errors.New("block does not link to the chain tip")
)

// Genesis block values.
const (
	GenesisPreviousHash = "0000000000"
	GenesisData         = "Genesis Block"
)

// =============================================================================

// Config represents the configuration required to construct a chain.
type Config struct {

	// StrictAppend turns on linkage verification when a block is added.
	// By default only the proof of work is checked on append and linkage
	// is left to IsValid.
	StrictAppend bool

	EvHandler block.EventHandler
}

// Blockchain manages the sequence of blocks. Index 0 is always genesis.
type Blockchain struct {
	mu        sync.RWMutex
	blocks    []block.Block
	strict    bool
	evHandler block.EventHandler
}

// New constructs a chain holding a freshly mined genesis block.
func New(ctx context.Context, cfg Config) (*Blockchain, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	bc := Blockchain{
		strict:    cfg.StrictAppend,
		evHandler: ev,
	}

	genesis, err := bc.CreateGenesisBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("mining genesis: %w", err)
	}
	bc.blocks = []block.Block{genesis}

	return &bc, nil
}

// CreateGenesisBlock constructs and mines the height 0 block.
func (bc *Blockchain) CreateGenesisBlock(ctx context.Context) (block.Block, error) {
	b := block.New(0, GenesisPreviousHash)
	b.SetData(GenesisData)

	hash, err := b.Mine(ctx, bc.evHandler)
	if err != nil {
		return block.Block{}, err
	}
	b.SetHash(hash)

	return b, nil
}

// CreateNextBlock constructs an unmined block that follows the current tip.
// The caller is responsible for mining the block and setting its hash.
func (bc *Blockchain) CreateNextBlock(data string) block.Block {
	tip := bc.LatestBlock()

	b := block.New(tip.Height+1, tip.Hash)
	b.SetData(data)

	return b
}

// AddBlock appends a mined block to the chain. The block is rejected with
// ErrInvalidProof when its stored hash doesn't solve the puzzle, in which
// case the chain is unchanged.
func (bc *Blockchain) AddBlock(b block.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.evHandler("chain: AddBlock: started: height[%d]: hash[%s]", b.Height, b.Hash)
	defer bc.evHandler("chain: AddBlock: completed: height[%d]", b.Height)

	if b.CheckProof() {
		bc.evHandler("chain: AddBlock: REJECTED: height[%d]: hash[%s]", b.Height, b.Hash)
		return fmt.Errorf("height %d, hash %q: %w", b.Height, b.Hash, ErrInvalidProof)
	}

	// Linkage is only enforced on append when configured, IsValid remains
	// the authoritative check otherwise.
	if bc.strict {
		if err := b.ValidateNext(bc.blocks[len(bc.blocks)-1]); err != nil {
			bc.evHandler("chain: AddBlock: REJECTED: height[%d]: %s", b.Height, err)
			return fmt.Errorf("%w: %w", ErrChainForked, err)
		}
	}

	bc.blocks = append(bc.blocks, b)

	return nil
}

// MineNextBlock creates, mines and appends a block carrying the specified
// data. Mining happens outside the chain lock. If another block is appended
// while this one is being mined, the mined block is still appended under the
// default proof-only check and IsValid will report the broken link.
func (bc *Blockchain) MineNextBlock(ctx context.Context, data string) (block.Block, error) {
	b := bc.CreateNextBlock(data)

	hash, err := b.Mine(ctx, bc.evHandler)
	if err != nil {
		return block.Block{}, err
	}
	b.SetHash(hash)

	// The caller may have given up while the last attempts ran.
	if err := ctx.Err(); err != nil {
		return block.Block{}, err
	}

	if err := bc.AddBlock(b); err != nil {
		return block.Block{}, err
	}

	return b, nil
}

// IsValid walks the whole chain and checks every block links to its parent
// and that its stored hash matches a fresh digest of its fields. Genesis is
// only checked through the link block 1 holds to its hash.
func (bc *Blockchain) IsValid() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	for i := 1; i < len(bc.blocks); i++ {
		current := bc.blocks[i]
		previous := bc.blocks[i-1]

		if current.PreviousHash != previous.Hash {
			bc.evHandler("chain: IsValid: INVALID: height[%d]: previous hash mismatch", current.Height)
			return false
		}

		if current.Hash != current.Digest() {
			bc.evHandler("chain: IsValid: INVALID: height[%d]: digest mismatch", current.Height)
			return false
		}
	}

	return true
}

// =============================================================================

// LatestBlock returns the tip of the chain.
func (bc *Blockchain) LatestBlock() block.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return bc.blocks[len(bc.blocks)-1]
}

// Block returns the block at the specified height.
func (bc *Blockchain) Block(height uint64) (block.Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if height >= uint64(len(bc.blocks)) {
		return block.Block{}, fmt.Errorf("height %d: %w", height, ErrNotFound)
	}

	return bc.blocks[height], nil
}

// Blocks returns a copy of the chain.
func (bc *Blockchain) Blocks() []block.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	blocks := make([]block.Block, len(bc.blocks))
	copy(blocks, bc.blocks)

	return blocks
}

// Length returns the number of blocks in the chain including genesis.
func (bc *Blockchain) Length() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return len(bc.blocks)
}
