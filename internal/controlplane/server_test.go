package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/solana-labs/solana-voib-demo/internal/contract"
	"github.com/solana-labs/solana-voib-demo/internal/ledger"
	"github.com/solana-labs/solana-voib-demo/internal/session"
	"github.com/solana-labs/solana-voib-demo/internal/settler"
)

// stubPubsub serves a minimal accountSubscribe server so newConnection's
// pubsub.Subscribe call succeeds without a real fullnode.
func stubPubsub(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(map[string]interface{}{"result": 1})
		// Keep the socket open for the life of the session.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestNewConnectionEndToEnd(t *testing.T) {
	mint, _ := ledger.GenerateKeypair()
	bank := ledger.NewBank(mint.Pubkey, 1_000_000)
	bank.RegisterProgram(contract.ProgramID, contract.Process)

	gatekeeper, _ := ledger.GenerateKeypair()
	initiator, _ := ledger.GenerateKeypair()
	provider, _ := ledger.GenerateKeypair()
	contractKP, _ := ledger.GenerateKeypair()

	ctx := context.Background()
	if err := bank.CreateAccount(mint.Pubkey, contractKP.Pubkey, 500, contract.StateSize, contract.ProgramID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	state := contract.PrepayState{GatekeeperID: gatekeeper.Pubkey, ProviderID: provider.Pubkey, InitiatorID: initiator.Pubkey}
	data, _ := bank.GetAccountData(ctx, contractKP.Pubkey)
	state.Serialize(data)
	bank.WriteAccountData(ctx, contractKP.Pubkey, data)

	srvCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := &Server{
		Addr:          "127.0.0.1:0",
		Gatekeeper:    gatekeeper,
		Client:        bank,
		PubsubAddr:    stubPubsub(t),
		FeeIntervalMS: 10_000,
		BusinessLogic: session.DefaultBusinessLogic,
		SettleQueue:   settler.NewQueue(),
		Log:           zap.NewNop(),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server.Addr = ln.Addr().String()
	ln.Close()

	go server.ListenAndServe(srvCtx)
	waitForListener(t, server.Addr)

	conn, err := net.Dial("tcp", server.Addr)
	if err != nil {
		t.Fatalf("dial control plane: %v", err)
	}
	defer conn.Close()

	dest := echoServer(t)
	reqLine := fmt.Sprintf(`{"jsonrpc":"2.0","method":"newConnection","params":{"contract_pubkey":%q,"destination":%q,"initiator_pubkey":%q},"id":1}`+"\n",
		contractKP.Pubkey.String(), dest, initiator.Pubkey.String())
	if _, err := conn.Write([]byte(reqLine)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var resp response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", line, err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	if _, ok := result["port"]; !ok {
		t.Fatalf("response missing port: %#v", result)
	}
}

func TestNewConnectionInvalidPubkey(t *testing.T) {
	mint, _ := ledger.GenerateKeypair()
	bank := ledger.NewBank(mint.Pubkey, 1_000_000)
	bank.RegisterProgram(contract.ProgramID, contract.Process)
	gatekeeper, _ := ledger.GenerateKeypair()

	server := &Server{
		Gatekeeper:    gatekeeper,
		Client:        bank,
		FeeIntervalMS: 10_000,
		BusinessLogic: session.DefaultBusinessLogic,
		SettleQueue:   settler.NewQueue(),
		Log:           zap.NewNop(),
	}

	_, rpcErr := server.newConnection(context.Background(), json.RawMessage(`{"contract_pubkey":"not-base58!!","destination":"x:1","initiator_pubkey":"also-bad"}`))
	if rpcErr == nil {
		t.Fatal("expected invalid_request error")
	}
	if rpcErr.Code != codeInvalidRequest {
		t.Errorf("code: got %d want %d", rpcErr.Code, codeInvalidRequest)
	}
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("control plane never started listening on %s", addr)
}
