package contract

import "github.com/solana-labs/solana-voib-demo/internal/ledger"

// Process dispatches one prepay-contract instruction. It is registered
// with the ledger as the ProgramProcessor for ProgramID (see
// ledger.Bank.RegisterProgram) and is also what a real fullnode's runtime
// would invoke for every transaction naming this program.
func Process(accounts []*ledger.KeyedAccount, data []byte) error {
	instruction, err := DecodeInstruction(data)
	if err != nil {
		return err
	}
	switch instruction.Tag {
	case TagInitializeAccount:
		return initializeAccount(accounts)
	case TagSpend:
		return spend(accounts, instruction.Amount)
	case TagRefund:
		return refund(accounts)
	default:
		return ErrInvalidInstructionData
	}
}

func initializeAccount(accounts []*ledger.KeyedAccount) error {
	const (
		initiatorIdx = 0
		contractIdx  = 1
		gatekeeperIdx = 2
		providerIdx  = 3
	)
	contractAcc := accounts[contractIdx].Account
	if existing, err := DeserializeState(contractAcc.Data); err == nil && !existing.IsDefault() {
		return ErrAlreadyInitialized
	}

	state := PrepayState{
		InitiatorID:  accounts[initiatorIdx].UnsignedKey(),
		GatekeeperID: accounts[gatekeeperIdx].UnsignedKey(),
		ProviderID:   accounts[providerIdx].UnsignedKey(),
	}
	if len(contractAcc.Data) < StateSize {
		contractAcc.Data = make([]byte, StateSize)
	}
	return state.Serialize(contractAcc.Data)
}

func spend(accounts []*ledger.KeyedAccount, amount uint64) error {
	const (
		gatekeeperIdx = 0
		contractIdx   = 1
		providerIdx   = 2
	)
	contractAcc := accounts[contractIdx].Account
	state, err := DeserializeState(contractAcc.Data)
	if err != nil {
		return ErrUserdataDeserializeFailure
	}

	signer, isSigner := accounts[gatekeeperIdx].SignerKey()
	if !isSigner {
		return ErrNotSignedByGatekeeper
	}
	if signer != state.GatekeeperID {
		return ErrNoGatekeeperAccount
	}
	if accounts[providerIdx].UnsignedKey() != state.ProviderID {
		return ErrNoProviderAccount
	}
	if contractAcc.Lamports < amount {
		return ErrBalanceTooLow
	}

	contractAcc.Lamports -= amount
	accounts[providerIdx].Account.Lamports += amount
	return nil
}

func refund(accounts []*ledger.KeyedAccount) error {
	const (
		gatekeeperIdx = 0
		contractIdx   = 1
		initiatorIdx  = 2
	)
	contractAcc := accounts[contractIdx].Account
	state, err := DeserializeState(contractAcc.Data)
	if err != nil {
		return ErrUserdataDeserializeFailure
	}

	signer, isSigner := accounts[gatekeeperIdx].SignerKey()
	if !isSigner {
		return ErrNotSignedByGatekeeper
	}
	if signer != state.GatekeeperID {
		return ErrNoGatekeeperAccount
	}
	if accounts[initiatorIdx].UnsignedKey() != state.InitiatorID {
		return ErrNoInitiatorAccount
	}

	accounts[initiatorIdx].Account.Lamports += contractAcc.Lamports
	contractAcc.Lamports = 0
	return nil
}
