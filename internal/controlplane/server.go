package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/solana-labs/solana-voib-demo/internal/ledger"
	"github.com/solana-labs/solana-voib-demo/internal/pubsub"
	"github.com/solana-labs/solana-voib-demo/internal/session"
	"github.com/solana-labs/solana-voib-demo/internal/settler"
)

// Server is the gatekeeper's control plane: one TCP listener speaking
// line-delimited JSON-RPC 2.0, exposing newConnection.
type Server struct {
	Addr          string
	Gatekeeper    *ledger.Keypair
	Client        ledger.Client
	PubsubAddr    string
	FeeIntervalMS uint16
	BusinessLogic session.BusinessLogic
	SettleQueue   settler.Queue
	Log           *zap.Logger

	active int32
	wg     sync.WaitGroup
}

// ActiveSessions reports how many sessions are currently forwarding.
// Satisfies internal/admin.SessionLister.
func (s *Server) ActiveSessions() int {
	return int(atomic.LoadInt32(&s.active))
}

// Wait blocks until every session forwarder spawned by newConnection has
// returned. Per spec.md's "shutdown of the whole process must join all
// forwarder threads," the caller is expected to cancel the context passed
// to ListenAndServe and to each forwarder before calling Wait, so that
// in-flight sessions actually have a chance to exit and finish their
// teardown settlement rather than Wait blocking forever.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ListenAndServe binds Addr and serves connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("controlplane: listen %s: %w", s.Addr, err)
	}
	s.Log.Info("control plane listening", zap.String("addr", s.Addr))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("controlplane: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn serves one client connection: each line in is one JSON-RPC
// request, each line out is its response. The connection stays open across
// multiple newConnection calls, matching jsonrpc-tcp-server's framing.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(ctx, line)
		out, err := json.Marshal(resp)
		if err != nil {
			s.Log.Error("controlplane: marshal response", zap.Error(err))
			return
		}
		if _, err := writer.Write(out); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return response{JSONRPC: "2.0", Error: errParse(err.Error())}
	}

	var result interface{}
	var rpcErr *rpcError
	switch req.Method {
	case "newConnection":
		result, rpcErr = s.newConnection(ctx, req.Params)
	default:
		rpcErr = errMethodNotFound(req.Method)
	}

	return response{JSONRPC: "2.0", Result: result, Error: rpcErr, ID: req.ID}
}

// newConnection validates the request, checks the contract, opens a pubsub
// subscription, spawns a session forwarder, and waits for its bound port —
// mirroring gatekeeper/src/main.rs's newConnection handler end to end.
func (s *Server) newConnection(ctx context.Context, raw json.RawMessage) (interface{}, *rpcError) {
	var params newConnectionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errInvalidRequest("malformed params")
	}

	contractPubkey, err := ledger.NewPubkeyFromBase58(params.ContractPubkey)
	if err != nil {
		return nil, errInvalidRequest("invalid contract_pubkey: " + err.Error())
	}
	initiatorPubkey, err := ledger.NewPubkeyFromBase58(params.InitiatorPubkey)
	if err != nil {
		return nil, errInvalidRequest("invalid initiator_pubkey: " + err.Error())
	}
	if params.Destination == "" {
		return nil, errInvalidRequest("destination is required")
	}

	balance, contractState, err := checkContract(ctx, s.Client, contractPubkey, s.Gatekeeper.Pubkey)
	if err != nil {
		s.Log.Error("controlplane: check_contract failed", zap.String("contract", contractPubkey.String()), zap.Error(err))
		return nil, errInvalidRequest("could not validate contract")
	}
	if balance == 0 {
		return nil, errInvalidRequest("contract balance is zero")
	}
	if contractState.InitiatorID != initiatorPubkey {
		return nil, errInvalidRequest("initiator_pubkey does not match contract state")
	}

	sub, err := pubsub.Subscribe(s.PubsubAddr, pubsub.MethodAccount, contractPubkey.String(), s.Log)
	if err != nil {
		s.Log.Error("controlplane: pubsub subscribe failed", zap.Error(err))
		return nil, errInvalidRequest("could not subscribe to contract account")
	}

	sessionParams := session.Params{
		ContractPubkey:  contractPubkey,
		Destination:     params.Destination,
		FeeIntervalMS:   s.FeeIntervalMS,
		InitiatorPubkey: initiatorPubkey,
	}
	fwd := session.NewForwarder(sessionParams, s.Gatekeeper, s.Client, contractState, balance, s.BusinessLogic, sub.Events, s.SettleQueue, s.Log)

	boundPort := make(chan int, 1)
	atomic.AddInt32(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		defer atomic.AddInt32(&s.active, -1)
		if err := fwd.Run(ctx, boundPort); err != nil {
			s.Log.Error("controlplane: session ended with error", zap.String("contract", contractPubkey.String()), zap.Error(err))
		}
	}()

	select {
	case port, ok := <-boundPort:
		if !ok {
			sub.Close()
			return nil, errServer2("forwarder failed to deliver its bound port")
		}
		s.Log.Info("controlplane: started new session", zap.Int("port", port), zap.String("destination", params.Destination))
		return map[string]string{"port": fmt.Sprintf("%d", port)}, nil
	case <-ctx.Done():
		sub.Close()
		return nil, errServer2("server shutting down")
	}
}
