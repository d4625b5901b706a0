package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
)

// KeyedAccount pairs an Account with the pubkey and signer status it was
// referenced with in one particular instruction. A processor never sees a
// bare Account: it always knows which key it is and whether that key signed
// the enclosing transaction, mirroring solana_sdk::account::KeyedAccount.
type KeyedAccount struct {
	Key      Pubkey
	IsSigner bool
	Account  *Account
}

// SignerKey returns the account's pubkey if it signed the transaction.
func (k *KeyedAccount) SignerKey() (Pubkey, bool) {
	if k.IsSigner {
		return k.Key, true
	}
	return Pubkey{}, false
}

// UnsignedKey returns the account's pubkey regardless of signer status,
// for accounts a processor only needs to compare, never authenticate.
func (k *KeyedAccount) UnsignedKey() Pubkey { return k.Key }

// ProgramProcessor executes one instruction against the accounts it names,
// in the order the instruction listed them. Mutations to an account's
// Lamports/Data are observed by the Bank after the call returns. Mirrors
// the original runtime's instruction-processor registration
// (bank.add_instruction_processor).
type ProgramProcessor func(accounts []*KeyedAccount, data []byte) error

// Bank is a single-process, in-memory ledger. It exists so the gatekeeper's
// own tests (and local development without a fullnode) can exercise the
// full contract + settlement path without a network round trip — the same
// role the original's solana_runtime::Bank/BankClient test harness played.
type Bank struct {
	mu       sync.Mutex
	accounts map[Pubkey]*Account
	programs map[Pubkey]ProgramProcessor
	nextHash uint64
}

// NewBank creates an empty ledger and funds mint with the given lamports.
func NewBank(mint Pubkey, lamports uint64) *Bank {
	b := &Bank{
		accounts: make(map[Pubkey]*Account),
		programs: make(map[Pubkey]ProgramProcessor),
	}
	b.accounts[mint] = &Account{Lamports: lamports}
	return b
}

// RegisterProgram installs the processor invoked for instructions whose
// ProgramID is id.
func (b *Bank) RegisterProgram(id Pubkey, proc ProgramProcessor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.programs[id] = proc
}

// CreateAccount creates pubkey owned by owner with the given starting
// lamport balance and data capacity, transferring the lamports from payer.
// Mirrors the system program's create_account instruction that the original
// client library issues ahead of InitializeAccount.
func (b *Bank) CreateAccount(payer, pubkey Pubkey, lamports uint64, space int, owner Pubkey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	from, ok := b.accounts[payer]
	if !ok || from.Lamports < lamports {
		return fmt.Errorf("ledger: payer %s has insufficient funds", payer)
	}
	if _, exists := b.accounts[pubkey]; exists {
		return fmt.Errorf("ledger: account %s already exists", pubkey)
	}
	from.Lamports -= lamports
	b.accounts[pubkey] = &Account{Lamports: lamports, Data: make([]byte, space), Owner: owner}
	return nil
}

// Transfer moves lamports between two existing or implicitly-created
// accounts, used to fund a gatekeeper's signing account in tests the way
// the original test suite funds the gatekeeper with 1 lamport before Spend.
func (b *Bank) Transfer(from, to Pubkey, lamports uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.accounts[from]
	if !ok || src.Lamports < lamports {
		return fmt.Errorf("ledger: %s has insufficient funds", from)
	}
	dst := b.accounts[to]
	if dst == nil {
		dst = &Account{}
		b.accounts[to] = dst
	}
	src.Lamports -= lamports
	dst.Lamports += lamports
	return nil
}

// WriteAccountData overwrites the raw data stored at pubkey, creating the
// account first if necessary. It exists for test and bootstrap setup that
// needs to seed ledger-resident state without going through a signed
// instruction, mirroring the original test suite's direct bank.set_account
// helper.
func (b *Bank) WriteAccountData(_ context.Context, pubkey Pubkey, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[pubkey]
	if !ok {
		acc = &Account{}
		b.accounts[pubkey] = acc
	}
	acc.Data = make([]byte, len(data))
	copy(acc.Data, data)
	return nil
}

// GetBalance implements Client.
func (b *Bank) GetBalance(_ context.Context, pubkey Pubkey) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[pubkey]; ok {
		return acc.Lamports, nil
	}
	return 0, nil
}

// GetAccountData implements Client.
func (b *Bank) GetAccountData(_ context.Context, pubkey Pubkey) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := make([]byte, len(acc.Data))
	copy(out, acc.Data)
	return out, nil
}

// GetRecentBlockhash implements Client. Each call returns a distinct
// blockhash, which is all the in-memory bank needs to stand in for a
// rolling ledger hash.
func (b *Bank) GetRecentBlockhash(_ context.Context) (Blockhash, error) {
	b.mu.Lock()
	b.nextHash++
	n := b.nextHash
	b.mu.Unlock()
	var seed [8]byte
	for i := range seed {
		seed[i] = byte(n >> (8 * i))
	}
	return sha256.Sum256(seed[:]), nil
}

// SendTransactionAsync implements Client by executing tx synchronously
// in-process; the in-memory bank has no network to be asynchronous over.
func (b *Bank) SendTransactionAsync(ctx context.Context, tx *Transaction) error {
	_, err := b.process(tx)
	return err
}

// SendMessage implements Client: builds, signs, and executes a transaction
// for msg, returning the transaction's first signature.
func (b *Bank) SendMessage(ctx context.Context, signers []*Keypair, msg Message) (Signature, error) {
	blockhash, err := b.GetRecentBlockhash(ctx)
	if err != nil {
		return Signature{}, err
	}
	tx, err := NewTransaction(signers, msg, blockhash)
	if err != nil {
		return Signature{}, err
	}
	return b.process(tx)
}

func (b *Bank) process(tx *Transaction) (Signature, error) {
	if !tx.Verify() {
		return Signature{}, fmt.Errorf("ledger: transaction signature verification failed")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// Instructions run against copies of the accounts, which replace the
	// originals only once every instruction has succeeded.
	working := make(map[Pubkey]*Account, len(b.accounts))
	for pk, acc := range b.accounts {
		cp := *acc
		cp.Data = append([]byte(nil), acc.Data...)
		working[pk] = &cp
	}

	for _, ix := range tx.Message.Instructions {
		proc, ok := b.programs[ix.ProgramID]
		if !ok {
			return Signature{}, fmt.Errorf("ledger: unknown program %s", ix.ProgramID)
		}
		signerSet := make(map[Pubkey]bool, len(tx.Signatures))
		order := signerOrder(tx.Message)
		for i, pk := range order {
			if i < len(tx.Signatures) {
				signerSet[pk] = true
			}
		}
		accounts := make([]*KeyedAccount, len(ix.Accounts))
		for i, am := range ix.Accounts {
			acc, ok := working[am.Pubkey]
			if !ok {
				acc = &Account{}
				working[am.Pubkey] = acc
			}
			signed := am.IsSigner && signerSet[am.Pubkey]
			if am.IsSigner && !signed {
				return Signature{}, fmt.Errorf("ledger: account %s required as signer but did not sign", am.Pubkey)
			}
			accounts[i] = &KeyedAccount{Key: am.Pubkey, IsSigner: signed, Account: acc}
		}
		if err := proc(accounts, ix.Data); err != nil {
			return Signature{}, err
		}
	}
	b.accounts = working
	if len(tx.Signatures) == 0 {
		return Signature{}, nil
	}
	return tx.Signatures[0], nil
}
