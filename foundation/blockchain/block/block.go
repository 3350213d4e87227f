// Package block defines a block on the chain and the proof of work
// puzzle that must be solved before a block is accepted.
package block

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Difficulty is the fixed prefix a digest must have to be an accepted proof.
// Four hex zeros means the top 16 bits of the digest are zero.
const Difficulty = "0000"

// pollInterval is how many attempts are made between checks of the context.
const pollInterval = 1 << 16

// EventHandler defines a function that is called when events
// occur while mining a block.
type EventHandler func(v string, args ...any)

// =============================================================================

// Block represents a single entry in the chain.
type Block struct {
	Height       uint64 `json:"height"`       // Position in the chain, genesis is 0.
	PreviousHash string `json:"previousHash"` // Hash of the preceding block.
	TimeStamp    int64  `json:"timestamp"`    // Unix milliseconds, set when mining starts.
	Nonce        uint64 `json:"nonce"`        // Value incremented to solve the puzzle.
	Data         string `json:"data"`         // Arbitrary payload.
	Hash         string `json:"hash"`         // Identity of the block once mined.
}

// New constructs an unmined block for the specified position in the chain.
func New(height uint64, previousHash string) Block {
	return Block{
		Height:       height,
		PreviousHash: previousHash,
	}
}

// SetData replaces the payload of the block.
func (b *Block) SetData(data string) {
	b.Data = data
}

// SetNonce replaces the nonce of the block.
func (b *Block) SetNonce(nonce uint64) {
	b.Nonce = nonce
}

// SetHash stores the mined digest as the identity of the block.
func (b *Block) SetHash(hash string) {
	b.Hash = hash
}

// Digest calculates the SHA-256 digest of the block fields. The fields are
// concatenated in height, nonce, data, previous hash, timestamp order with
// no separators.
func (b Block) Digest() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(b.Height, 10))
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))
	sb.WriteString(b.Data)
	sb.WriteString(b.PreviousHash)
	sb.WriteString(strconv.FormatInt(b.TimeStamp, 10))

	hash := sha256.Sum256([]byte(sb.String()))
	return common.Bytes2Hex(hash[:])
}

// Mine stamps the block with the current time and increments the nonce until
// the digest solves the puzzle. The solved digest is returned but not stored,
// the caller decides when to call SetHash. The loop has no attempt limit and
// only returns early if the context is cancelled.
func (b *Block) Mine(ctx context.Context, ev EventHandler) (string, error) {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	ev("block: Mine: MINING: started: height[%d]", b.Height)
	defer ev("block: Mine: MINING: completed: height[%d]", b.Height)

	b.TimeStamp = time.Now().UnixMilli()

	var attempts uint64
	for {
		attempts++

		hash := b.Digest()
		if IsHashSolved(hash) {
			ev("block: Mine: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.PreviousHash, hash, attempts)
			return hash, nil
		}

		// Did we get asked to stop trying to solve the problem.
		if attempts%pollInterval == 0 {
			if err := ctx.Err(); err != nil {
				ev("block: Mine: MINING: CANCELLED: attempts[%d]", attempts)
				return "", err
			}
		}

		b.Nonce++
	}
}

// CheckProof reports true when the stored hash does NOT solve the puzzle.
// A true result means the proof is invalid.
func (b Block) CheckProof() bool {
	return !IsHashSolved(b.Hash)
}

// ValidateNext checks that the block can follow the specified block in the
// chain. This is stricter than the proof check performed on append.
func (b Block) ValidateNext(prev Block) error {
	if b.Height != prev.Height+1 {
		return fmt.Errorf("this block is not the next number, got %d, exp %d", b.Height, prev.Height+1)
	}

	if b.PreviousHash != prev.Hash {
		return fmt.Errorf("parent block hash doesn't match our known parent, got %s, exp %s", b.PreviousHash, prev.Hash)
	}

	if digest := b.Digest(); b.Hash != digest {
		return fmt.Errorf("block hash doesn't match its digest, got %s, exp %s", b.Hash, digest)
	}

	if b.CheckProof() {
		return errors.New("block hash has not been solved")
	}

	return nil
}

// IsHashSolved checks the hash has the required difficulty prefix.
func IsHashSolved(hash string) bool {
	return strings.HasPrefix(hash, Difficulty)
}
