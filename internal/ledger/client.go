package ledger

import "context"

// Client is every ledger operation the gatekeeper needs. It is satisfied by
// RPCClient (talks to a real fullnode) and by Bank (an in-process ledger
// used by tests and by the forwarder's own test harness). Sessions, the
// settlement worker, and the control plane all hold the same Client value
// — see internal/session, internal/settler, internal/controlplane.
type Client interface {
	// GetAccountData returns the raw data blob stored at pubkey, or
	// ErrAccountNotFound if the account has never been created.
	GetAccountData(ctx context.Context, pubkey Pubkey) ([]byte, error)

	// GetBalance returns the lamport balance of pubkey. A never-created
	// account has a balance of zero, not an error.
	GetBalance(ctx context.Context, pubkey Pubkey) (uint64, error)

	// GetRecentBlockhash returns a blockhash suitable for anchoring a new
	// transaction.
	GetRecentBlockhash(ctx context.Context) (Blockhash, error)

	// SendTransactionAsync submits tx without waiting for it to land. Used
	// by the settlement worker's fire-and-forget dispatch.
	SendTransactionAsync(ctx context.Context, tx *Transaction) error

	// SendMessage builds, signs, and submits msg in one synchronous call.
	// Used for the blocking in-band settlement and teardown paths. Bank
	// executes the transaction before returning; RPCClient returns once the
	// fullnode accepts it and does not wait for confirmation.
	SendMessage(ctx context.Context, signers []*Keypair, msg Message) (Signature, error)
}

// ErrAccountNotFound is returned by GetAccountData when no account has ever
// been created at the given pubkey.
var ErrAccountNotFound = errAccountNotFound{}

type errAccountNotFound struct{}

func (errAccountNotFound) Error() string { return "ledger: account not found" }
