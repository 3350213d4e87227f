package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/gossipledger/app/services/node/handlers"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/chain"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/gossip"
	"github.com/ardanlabs/gossipledger/foundation/blockchain/worker"
	"github.com/ardanlabs/gossipledger/foundation/events"
	"github.com/ardanlabs/gossipledger/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:120s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:8180"`
		}
		Gossip struct {
			ID         string   `conf:"default:node1"`
			Host       string   `conf:"default:0.0.0.0:9080"`
			PublicHost string   `conf:"help:host:port other peers dial, defaults to the listener"`
			KnownPeers []string `conf:"help:ws:// addresses dialed at startup"`
		}
		Ledger struct {
			StrictAppend bool `conf:"default:false"`
			SeedBlocks   int  `conf:"default:3"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "gossip ledger node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// =========================================================================
	// Ledger Support

	// Mining genesis and the seed blocks can't take longer than the time we
	// are willing to wait for the process to start.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer cancel()

	bc, err := chain.New(ctx, chain.Config{
		StrictAppend: cfg.Ledger.StrictAppend,
		EvHandler:    ev,
	})
	if err != nil {
		return fmt.Errorf("constructing ledger: %w", err)
	}

	for i := 0; i < cfg.Ledger.SeedBlocks; i++ {
		if _, err := bc.MineNextBlock(ctx, fmt.Sprintf("Hello World %d", i)); err != nil {
			return fmt.Errorf("mining seed block %d: %w", i, err)
		}
	}
	log.Infow("startup", "status", "ledger ready", "length", bc.Length(), "valid", bc.IsValid())

	// The worker makes sure HTTP requests mine one block at a time.
	wrk := worker.Run(bc, ev)
	defer wrk.Shutdown()

	// =========================================================================
	// Gossip Support

	node, err := gossip.New(gossip.Config{
		ID:         cfg.Gossip.ID,
		Host:       cfg.Gossip.Host,
		PublicHost: cfg.Gossip.PublicHost,
		OnBroadcast: func(msg gossip.Broadcast) {
			ev("node: broadcast received: id[%s]: from[%s]: message[%s]", msg.ID, msg.From, msg.Text())
		},
		EvHandler: ev,
	})
	if err != nil {
		return fmt.Errorf("starting gossip node: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()
		if err := node.Shutdown(ctx); err != nil {
			log.Errorw("shutdown", "status", "gossip node", "ERROR", err)
		}
	}()

	log.Infow("startup", "status", "gossip node started", "host", cfg.Gossip.Host, "address", node.Address())

	// Dial the statically configured peers. Failures only show in the logs.
	go func() {
		for _, address := range cfg.Gossip.KnownPeers {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ReadTimeout)
			if err := node.Connect(ctx, address); err != nil {
				log.Errorw("startup", "status", "known peer", "address", address, "ERROR", err)
			}
			cancel()
		}
	}()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log, bc)

	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// Mining through the api gives up before the write deadline so the
	// client is told the block wasn't added.
	muxCfg := handlers.MuxConfig{
		Shutdown:    shutdown,
		Log:         log,
		Chain:       bc,
		Worker:      wrk,
		MineTimeout: cfg.Web.WriteTimeout * 9 / 10,
		Node:        node,
		Evts:        evts,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
