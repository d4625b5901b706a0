// Package session implements the gatekeeper session: the per-connection
// state machine that validates a prepay contract, forwards bytes between
// an initiator and a destination, meters usage against the contract, and
// settles or refunds on exit. It is grounded on gatekeeper.rs, contract.rs,
// and accumulator.rs from the original implementation.
package session

import (
	"time"

	"github.com/solana-labs/solana-voib-demo/internal/ledger"
)

// Params is the immutable configuration of one session, fixed for its
// entire lifetime.
type Params struct {
	ContractPubkey  ledger.Pubkey
	Destination     string // "host:port"
	FeeIntervalMS   uint16
	InitiatorPubkey ledger.Pubkey
}

// ContractState is a snapshot of the on-ledger PrepayContract read at
// session start. The forwarder treats it as authoritative for the whole
// session; it is never re-read except during teardown.
type ContractState struct {
	GatekeeperID ledger.Pubkey
	ProviderID   ledger.Pubkey
	InitiatorID  ledger.Pubkey
}

// Accumulator is mutated exclusively by the forwarder goroutine; nothing
// else is permitted to touch it (see package doc and Design Notes §9 on
// single-threaded accumulator ownership).
type Accumulator struct {
	TotalBytes         uint64
	UnsettledCharge    uint64
	KnownInitiatorFund uint64
	LastSettleAt       time.Time
}

// BusinessLogic computes the lamport cost of forwarding dataAmount bytes.
// Implementations must be pure and total: same input, same output, no
// side effects, no panics.
type BusinessLogic func(dataAmount uint64) uint64

// DefaultBusinessLogic is the reference policy: one lamport per byte.
func DefaultBusinessLogic(dataAmount uint64) uint64 {
	return dataAmount
}

// MeterAction is the metering step's verdict for one read.
type MeterAction int

const (
	// MeterContinue means the budget check passed; keep forwarding.
	MeterContinue MeterAction = iota
	// MeterStop means the budget is exhausted; the caller must tear down.
	MeterStop
)

// State names a point in the session's explicit state machine (§4.4):
// Validating → Connecting → Accepting → Forwarding → Draining → Terminated.
// Every non-terminal state must pass through Draining before Terminated.
type State int

const (
	StateValidating State = iota
	StateConnecting
	StateAccepting
	StateForwarding
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateConnecting:
		return "connecting"
	case StateAccepting:
		return "accepting"
	case StateForwarding:
		return "forwarding"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
