// Command checkbal queries a prepay contract account: its lamport balance
// and its recorded gatekeeper/provider/initiator state. It is the
// read-only diagnostic counterpart of the gatekeeper's own check_contract
// step, runnable standalone against any fullnode.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/solana-labs/solana-voib-demo/internal/contract"
	"github.com/solana-labs/solana-voib-demo/internal/ledger"
)

func main() {
	fullnode := flag.String("fullnode", "127.0.0.1:8899", "fullnode RPC address (host:port)")
	contractKey := flag.String("contract", "", "base58 pubkey of the prepay contract account")
	flag.Parse()

	if *contractKey == "" {
		fmt.Fprintln(os.Stderr, "usage: checkbal -contract PUBKEY [-fullnode host:port]")
		os.Exit(1)
	}

	pubkey, err := ledger.NewPubkeyFromBase58(*contractKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid contract pubkey: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := ledger.NewRPCClient(*fullnode)

	data, err := client.GetAccountData(ctx, pubkey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read account: %v\n", err)
		os.Exit(1)
	}
	state, err := contract.DeserializeState(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode contract state: %v\n", err)
		os.Exit(1)
	}
	balance, err := client.GetBalance(ctx, pubkey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read balance: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("contract:   %s\n", pubkey)
	fmt.Printf("balance:    %d lamports\n", balance)
	fmt.Printf("gatekeeper: %s\n", state.GatekeeperID)
	fmt.Printf("provider:   %s\n", state.ProviderID)
	fmt.Printf("initiator:  %s\n", state.InitiatorID)
}
