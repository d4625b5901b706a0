// Package settler runs the background worker that dispatches settlement
// transactions without blocking any session's data path. It is grounded on
// the consumer/handler split of the teacher's settler package, reworked
// from a Redis BLPOP queue into an in-process channel: the spec carries no
// persistence-across-restarts requirement (§1 Non-goals), so the queue
// lives only in memory.
package settler

import "github.com/solana-labs/solana-voib-demo/internal/ledger"

// Request is one item on the settlement queue: a signed transaction ready
// to submit, and the client to submit it through.
type Request struct {
	Client      ledger.Client
	Transaction *ledger.Transaction
}

// Queue is the send end a session forwarder holds; Run holds the
// receive end. Unbounded per the reference design (§9 "unbounded
// channels"); DefaultQueueSize below is this implementation's documented
// back-pressure choice: bounded, and Enqueue drops the newest item rather
// than blocking the forwarder, so a stalled settlement worker can never
// stall the data path.
type Queue chan Request

// DefaultQueueSize bounds the settlement queue. The reference design
// leaves it unbounded; this implementation picks "drop newest, never
// block the forwarder" as its back-pressure policy (see Enqueue).
const DefaultQueueSize = 256

// NewQueue allocates a settlement queue of DefaultQueueSize capacity.
func NewQueue() Queue {
	return make(Queue, DefaultQueueSize)
}

// Enqueue offers req to the queue without blocking. It reports whether the
// item was accepted; a false return means the queue was full and the item
// was dropped, matching the Non-goal of "no retry of failed settlement
// transactions beyond submitting them to a best-effort worker".
func (q Queue) Enqueue(req Request) bool {
	select {
	case q <- req:
		return true
	default:
		return false
	}
}
