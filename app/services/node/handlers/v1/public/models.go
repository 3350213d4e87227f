package public

import (
	"github.com/ardanlabs/gossipledger/business/sys/validate"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/block"
)

type ledger struct {
	Length int           `json:"length"`
	Blocks []block.Block `json:"blocks"`
}

type validation struct {
	Valid  bool `json:"valid"`
	Length int  `json:"length"`
}

type newBlock struct {
	Data string `json:"data" validate:"required"`
}

// Validate checks the data in the model is considered clean.
func (nb newBlock) Validate() error {
	return validate.Check(nb)
}
