// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"
	"time"

	"github.com/ardanlabs/gossipledger/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/gossipledger/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/chain"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/gossip"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/worker"
	"github.com/ardanlabs/gossipledger/foundation/events"
	"github.com/ardanlabs/gossipledger/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log         *zap.SugaredLogger
	Chain       *chain.Blockchain
	Worker      *worker.Worker
	MineTimeout time.Duration
	Node        *gossip.Node
	Evts        *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:         cfg.Log,
		Chain:       cfg.Chain,
		Worker:      cfg.Worker,
		MineTimeout: cfg.MineTimeout,
		Evts:        cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/blockchain", pbl.Blockchain)
	app.Handle(http.MethodGet, version, "/block/:height", pbl.Block)
	app.Handle(http.MethodGet, version, "/validate", pbl.Validate)
	app.Handle(http.MethodGet, version, "/nextblock", pbl.NextBlock)
	app.Handle(http.MethodPost, version, "/blocks", pbl.AddBlock)
	app.Handle(http.MethodGet, version, "/events", pbl.Events)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:  cfg.Log,
		Node: cfg.Node,
	}

	app.Handle(http.MethodGet, version, "/peers", prv.Peers)
	app.Handle(http.MethodPost, version, "/peers", prv.Connect)
	app.Handle(http.MethodPost, version, "/broadcast", prv.Broadcast)
}
