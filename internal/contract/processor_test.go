package contract

import (
	"context"
	"testing"

	"github.com/solana-labs/solana-voib-demo/internal/ledger"
)

// newTestBank funds mint with lamports and registers the prepay program.
func newTestBank(t *testing.T, lamports uint64) (*ledger.Bank, *ledger.Keypair) {
	t.Helper()
	mint, err := ledger.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	bank := ledger.NewBank(mint.Pubkey, lamports)
	bank.RegisterProgram(ProgramID, Process)
	return bank, mint
}

func initializeInstruction(initiator, contract, gatekeeper, provider ledger.Pubkey) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: initiator, IsSigner: true},
			{Pubkey: contract, IsSigner: false},
			{Pubkey: gatekeeper, IsSigner: false},
			{Pubkey: provider, IsSigner: false},
		},
		Data: EncodeInitializeAccount(),
	}
}

// TestE1Initialize mirrors scenario E1: create a 500-lamport contract for
// alice and confirm both balances and the recorded state.
func TestE1Initialize(t *testing.T) {
	bank, alice := newTestBank(t, 10_000)
	contract, _ := ledger.GenerateKeypair()
	gatekeeper, _ := ledger.GenerateKeypair()
	provider, _ := ledger.GenerateKeypair()

	if err := bank.CreateAccount(alice.Pubkey, contract.Pubkey, 500, StateSize, ProgramID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	ctx := context.Background()
	msg := ledger.Message{Instructions: []ledger.Instruction{
		initializeInstruction(alice.Pubkey, contract.Pubkey, gatekeeper.Pubkey, provider.Pubkey),
	}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{alice}, msg); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if bal, _ := bank.GetBalance(ctx, contract.Pubkey); bal != 500 {
		t.Errorf("contract balance: got %d want 500", bal)
	}
	if bal, _ := bank.GetBalance(ctx, alice.Pubkey); bal != 9_500 {
		t.Errorf("alice balance: got %d want 9500", bal)
	}

	data, err := bank.GetAccountData(ctx, contract.Pubkey)
	if err != nil {
		t.Fatalf("GetAccountData: %v", err)
	}
	state, err := DeserializeState(data)
	if err != nil {
		t.Fatalf("DeserializeState: %v", err)
	}
	if state.InitiatorID != alice.Pubkey || state.GatekeeperID != gatekeeper.Pubkey || state.ProviderID != provider.Pubkey {
		t.Errorf("state mismatch: %+v", state)
	}
}

func setupInitialized(t *testing.T, contractLamports uint64) (bank *ledger.Bank, alice, contract, gatekeeper, provider *ledger.Keypair) {
	t.Helper()
	bank, alice = newTestBank(t, 10_000)
	contract, _ = ledger.GenerateKeypair()
	gatekeeper, _ = ledger.GenerateKeypair()
	provider, _ = ledger.GenerateKeypair()

	if err := bank.CreateAccount(alice.Pubkey, contract.Pubkey, contractLamports, StateSize, ProgramID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	ctx := context.Background()
	msg := ledger.Message{Instructions: []ledger.Instruction{
		initializeInstruction(alice.Pubkey, contract.Pubkey, gatekeeper.Pubkey, provider.Pubkey),
	}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{alice}, msg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := bank.Transfer(alice.Pubkey, gatekeeper.Pubkey, 1); err != nil {
		t.Fatalf("fund gatekeeper: %v", err)
	}
	return bank, alice, contract, gatekeeper, provider
}

// TestE2Spend mirrors scenario E2.
func TestE2Spend(t *testing.T) {
	bank, _, contract, gatekeeper, provider := setupInitialized(t, 500)
	ctx := context.Background()

	msg := ledger.Message{Instructions: []ledger.Instruction{{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: gatekeeper.Pubkey, IsSigner: true},
			{Pubkey: contract.Pubkey, IsSigner: false},
			{Pubkey: provider.Pubkey, IsSigner: false},
		},
		Data: EncodeSpend(100),
	}}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{gatekeeper}, msg); err != nil {
		t.Fatalf("spend: %v", err)
	}

	if bal, _ := bank.GetBalance(ctx, contract.Pubkey); bal != 400 {
		t.Errorf("contract balance: got %d want 400", bal)
	}
	if bal, _ := bank.GetBalance(ctx, provider.Pubkey); bal != 100 {
		t.Errorf("provider balance: got %d want 100", bal)
	}
}

// TestE3Refund mirrors scenario E3.
func TestE3Refund(t *testing.T) {
	bank, alice, contract, gatekeeper, _ := setupInitialized(t, 500)
	ctx := context.Background()

	msg := ledger.Message{Instructions: []ledger.Instruction{{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: gatekeeper.Pubkey, IsSigner: true},
			{Pubkey: contract.Pubkey, IsSigner: false},
			{Pubkey: alice.Pubkey, IsSigner: false},
		},
		Data: EncodeRefund(),
	}}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{gatekeeper}, msg); err != nil {
		t.Fatalf("refund: %v", err)
	}

	if bal, _ := bank.GetBalance(ctx, contract.Pubkey); bal != 0 {
		t.Errorf("contract balance: got %d want 0", bal)
	}
	// alice funded the contract with 500 out of 10000, then sent 1 lamport
	// to the gatekeeper out of her remaining 9500, so the refund brings
	// alice back to 9500-1+500 = 9999.
	if bal, _ := bank.GetBalance(ctx, alice.Pubkey); bal != 9_999 {
		t.Errorf("alice balance: got %d want 9999", bal)
	}
}

// TestSpendBalanceTooLow mirrors invariant 5: an over-large spend fails and
// mutates no account.
func TestSpendBalanceTooLow(t *testing.T) {
	bank, _, contract, gatekeeper, provider := setupInitialized(t, 500)
	ctx := context.Background()

	msg := ledger.Message{Instructions: []ledger.Instruction{{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: gatekeeper.Pubkey, IsSigner: true},
			{Pubkey: contract.Pubkey, IsSigner: false},
			{Pubkey: provider.Pubkey, IsSigner: false},
		},
		Data: EncodeSpend(600),
	}}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{gatekeeper}, msg); err != ErrBalanceTooLow {
		t.Fatalf("spend: got %v want ErrBalanceTooLow", err)
	}

	if bal, _ := bank.GetBalance(ctx, contract.Pubkey); bal != 500 {
		t.Errorf("contract balance mutated: got %d want 500", bal)
	}
	if bal, _ := bank.GetBalance(ctx, provider.Pubkey); bal != 0 {
		t.Errorf("provider balance mutated: got %d want 0", bal)
	}
}

// TestSpendNotSignedByGatekeeper mirrors invariant 6.
func TestSpendNotSignedByGatekeeper(t *testing.T) {
	bank, alice, contract, _, provider := setupInitialized(t, 500)
	ctx := context.Background()

	// alice signs instead of the gatekeeper: the first account is a
	// signer, but not the gatekeeper's key.
	msg := ledger.Message{Instructions: []ledger.Instruction{{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: alice.Pubkey, IsSigner: true},
			{Pubkey: contract.Pubkey, IsSigner: false},
			{Pubkey: provider.Pubkey, IsSigner: false},
		},
		Data: EncodeSpend(100),
	}}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{alice}, msg); err != ErrNoGatekeeperAccount {
		t.Fatalf("spend: got %v want ErrNoGatekeeperAccount", err)
	}
}

// TestE7DeserializeFailure mirrors scenario E7: spend on an account whose
// data is not a valid PrepayState.
func TestE7DeserializeFailure(t *testing.T) {
	bank, alice := newTestBank(t, 10_000)
	junk, _ := ledger.GenerateKeypair()
	gatekeeper, _ := ledger.GenerateKeypair()
	provider, _ := ledger.GenerateKeypair()
	if err := bank.CreateAccount(alice.Pubkey, junk.Pubkey, 500, 4, ProgramID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := bank.Transfer(alice.Pubkey, gatekeeper.Pubkey, 1); err != nil {
		t.Fatalf("fund gatekeeper: %v", err)
	}

	ctx := context.Background()
	msg := ledger.Message{Instructions: []ledger.Instruction{{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: gatekeeper.Pubkey, IsSigner: true},
			{Pubkey: junk.Pubkey, IsSigner: false},
			{Pubkey: provider.Pubkey, IsSigner: false},
		},
		Data: EncodeSpend(100),
	}}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{gatekeeper}, msg); err != ErrUserdataDeserializeFailure {
		t.Fatalf("spend: got %v want ErrUserdataDeserializeFailure", err)
	}
}

// TestInitializeAlreadyInitialized mirrors the AlreadyInitialized invariant.
func TestInitializeAlreadyInitialized(t *testing.T) {
	bank, alice, contract, gatekeeper, provider := setupInitialized(t, 500)
	ctx := context.Background()

	msg := ledger.Message{Instructions: []ledger.Instruction{
		initializeInstruction(alice.Pubkey, contract.Pubkey, gatekeeper.Pubkey, provider.Pubkey),
	}}
	if _, err := bank.SendMessage(ctx, []*ledger.Keypair{alice}, msg); err != ErrAlreadyInitialized {
		t.Fatalf("second initialize: got %v want ErrAlreadyInitialized", err)
	}
}
