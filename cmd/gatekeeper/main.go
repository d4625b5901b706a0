// Command gatekeeper runs the bandwidth-prepay gatekeeper: it loads a
// signing keypair, talks to a fullnode's RPC and pubsub endpoints, and
// serves the control plane that brokers prepaid forwarding sessions. It is
// the direct counterpart of gatekeeper/src/main.rs from the original
// implementation, restructured around the teacher's config/keystore/
// graceful-shutdown idiom from cmd/billing/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/solana-labs/solana-voib-demo/internal/admin"
	"github.com/solana-labs/solana-voib-demo/internal/config"
	"github.com/solana-labs/solana-voib-demo/internal/controlplane"
	"github.com/solana-labs/solana-voib-demo/internal/keystore"
	"github.com/solana-labs/solana-voib-demo/internal/ledger"
	"github.com/solana-labs/solana-voib-demo/internal/session"
	"github.com/solana-labs/solana-voib-demo/internal/settler"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	gatekeeper, err := keystore.Load(cfg.Gatekeeper.KeypairPath)
	if err != nil {
		log.Fatal("keystore load failed", zap.Error(err))
	}
	log.Info("gatekeeper identity loaded", zap.String("pubkey", gatekeeper.Pubkey.String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := ledger.NewRPCClient(cfg.Fullnode.RPCAddr())
	ensureFunded(ctx, client, cfg, gatekeeper, log)

	// ── Settlement queue + worker ─────────────────────────────────────────────
	queue := settler.NewQueue()
	go settler.Run(ctx, queue, log)

	// ── Control plane ─────────────────────────────────────────────────────────
	srv := &controlplane.Server{
		Addr:          fmt.Sprintf(":%d", cfg.Server.Port),
		Gatekeeper:    gatekeeper,
		Client:        client,
		PubsubAddr:    cfg.Fullnode.WSAddr(),
		FeeIntervalMS: uint16(cfg.Server.FeeIntervalMS),
		BusinessLogic: session.DefaultBusinessLogic,
		SettleQueue:   queue,
		Log:           log,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx)
	}()

	adminSrv := &admin.Server{
		Addr:     fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Sessions: srv,
		Log:      log,
	}
	go func() {
		if err := adminSrv.ListenAndServe(ctx); err != nil {
			log.Error("admin server exited", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
		log.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			log.Error("control plane exited", zap.Error(err))
		}
	}

	cancel()
	srv.Wait() // block until every forwarder goroutine has torn down and exited
	log.Info("shutdown complete")
}

// ensureFunded mirrors the original's bootstrap: if the gatekeeper's
// on-ledger balance is zero, request a one-lamport airdrop from the
// fullnode's drone so the gatekeeper can pay for its own teardown
// transactions. Airdrop failure is logged, not fatal — the original
// continues serving regardless (its own TODO notes this is a bootstrap
// convenience, not a production funding path).
func ensureFunded(ctx context.Context, client *ledger.RPCClient, cfg *config.Config, gatekeeper *ledger.Keypair, log *zap.Logger) {
	balance, err := client.GetBalance(ctx, gatekeeper.Pubkey)
	if err != nil {
		log.Warn("could not check gatekeeper balance", zap.Error(err))
		return
	}
	if balance > 0 {
		return
	}

	log.Info("gatekeeper balance is zero, requesting airdrop", zap.String("drone", cfg.Fullnode.DroneAddr()))
	if err := client.RequestAirdrop(ctx, cfg.Fullnode.DroneAddr(), gatekeeper.Pubkey, 1); err != nil {
		log.Error("airdrop request failed", zap.String("drone", cfg.Fullnode.DroneAddr()), zap.Error(err))
	}
}

