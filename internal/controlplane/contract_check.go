package controlplane

import (
	"context"
	"fmt"

	"github.com/solana-labs/solana-voib-demo/internal/contract"
	"github.com/solana-labs/solana-voib-demo/internal/ledger"
	"github.com/solana-labs/solana-voib-demo/internal/session"
)

// checkContract reads and validates the prepay contract, mirroring
// gatekeeper/src/main.rs's check_contract: the recorded gatekeeper must be
// this gatekeeper, and the contract's balance is returned. The caller
// separately checks that the balance is positive and compares the recorded
// initiator against the request's initiator_pubkey.
func checkContract(ctx context.Context, client ledger.Client, contractPubkey, gatekeeperPubkey ledger.Pubkey) (uint64, session.ContractState, error) {
	data, err := client.GetAccountData(ctx, contractPubkey)
	if err != nil {
		return 0, session.ContractState{}, fmt.Errorf("read contract account: %w", err)
	}
	state, err := contract.DeserializeState(data)
	if err != nil {
		return 0, session.ContractState{}, fmt.Errorf("deserialize contract state: %w", err)
	}
	if state.GatekeeperID != gatekeeperPubkey {
		return 0, session.ContractState{}, fmt.Errorf("contract's recorded gatekeeper does not match this gatekeeper")
	}
	balance, err := client.GetBalance(ctx, contractPubkey)
	if err != nil {
		return 0, session.ContractState{}, fmt.Errorf("read contract balance: %w", err)
	}
	return balance, session.ContractState{
		GatekeeperID: state.GatekeeperID,
		ProviderID:   state.ProviderID,
		InitiatorID:  state.InitiatorID,
	}, nil
}
