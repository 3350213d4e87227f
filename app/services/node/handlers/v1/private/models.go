package private

import "github.com/ardanlabs/gossipledger/business/sys/validate"

type status struct {
	ID        string   `json:"id"`
	Address   string   `json:"address"`
	Peers     []string `json:"peers"`
	Known     []string `json:"known"`
	MessageID []string `json:"messageIds"`
}

type newPeer struct {
	Address string `json:"address" validate:"required,url"`
}

// Validate checks the data in the model is considered clean.
func (np newPeer) Validate() error {
	return validate.Check(np)
}

type newBroadcast struct {
	Message string `json:"message" validate:"required"`
}

// Validate checks the data in the model is considered clean.
func (nb newBroadcast) Validate() error {
	return validate.Check(nb)
}
