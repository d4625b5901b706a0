package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solana-labs/solana-voib-demo/internal/contract"
	"github.com/solana-labs/solana-voib-demo/internal/ledger"
	"github.com/solana-labs/solana-voib-demo/internal/pubsub"
	"github.com/solana-labs/solana-voib-demo/internal/settler"
)

const readBufferSize = 32 * 1024

// Forwarder is one gatekeeper session: it owns the origin and destination
// TCP endpoints, the accumulator, and the pubsub event queue exclusively.
// Nothing outside this goroutine tree ever mutates its Accumulator — see
// the package doc and §9 of the design notes this mirrors.
type Forwarder struct {
	Params        Params
	ContractState ContractState

	gatekeeper    *ledger.Keypair
	client        ledger.Client
	businessLogic BusinessLogic
	pubsubEvents  <-chan pubsub.Event
	settleQueue   settler.Queue
	log           *zap.Logger

	accumulator Accumulator
	state       State

	listener    net.Listener
	origin      net.Conn
	destination net.Conn
}

// NewForwarder builds a Forwarder ready for Run. startingBalance is the
// contract's lamport balance observed by the control plane at admission
// time, used to seed the accumulator's known_initiator_fund.
func NewForwarder(
	params Params,
	gatekeeper *ledger.Keypair,
	client ledger.Client,
	contractState ContractState,
	startingBalance uint64,
	businessLogic BusinessLogic,
	pubsubEvents <-chan pubsub.Event,
	settleQueue settler.Queue,
	log *zap.Logger,
) *Forwarder {
	if businessLogic == nil {
		businessLogic = DefaultBusinessLogic
	}
	return &Forwarder{
		Params:        params,
		ContractState: contractState,
		gatekeeper:    gatekeeper,
		client:        client,
		businessLogic: businessLogic,
		pubsubEvents:  pubsubEvents,
		settleQueue:   settleQueue,
		log:           log,
		accumulator: Accumulator{
			KnownInitiatorFund: startingBalance,
			LastSettleAt:       time.Now(),
		},
		state: StateValidating,
	}
}

// readEvent is what each direction's reader goroutine reports back to the
// single forwarder loop that owns the Accumulator.
type readEvent struct {
	from string // "origin" or "destination"
	buf  []byte
	err  error
}

// closeOnCancel tracks whatever sockets Run has opened so far and closes
// all of them the instant ctx is canceled. This is this implementation's
// "shared atomic shutting-down flag" (spec.md §5/§9): closing the socket
// unblocks a goroutine parked in Accept/Read/Write immediately, instead of
// requiring every blocking call to poll a flag.
type closeOnCancel struct {
	mu      sync.Mutex
	closers []io.Closer
}

func (c *closeOnCancel) add(closer io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

func (c *closeOnCancel) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, closer := range c.closers {
		closer.Close()
	}
}

// watch closes every registered socket as soon as ctx is done, until
// stop is closed first (the normal, non-canceled exit path).
func (c *closeOnCancel) watch(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
		c.closeAll()
	case <-stop:
	}
}

// Run executes the session end to end: connect, accept, forward, meter,
// and tear down. boundPort receives the listener's ephemeral port exactly
// once, as soon as it is bound, so the control plane can reply to its
// caller before forwarding begins. Run returns nil for every graceful or
// budget-driven exit; it returns a non-nil error only for a fatal,
// unrecoverable I/O failure during setup, or ctx.Err() when ctx is canceled
// before the origin connection is accepted.
func (f *Forwarder) Run(ctx context.Context, boundPort chan<- int) error {
	f.state = StateConnecting
	defer close(boundPort)

	var closers closeOnCancel
	watchStop := make(chan struct{})
	defer close(watchStop)
	go closers.watch(ctx, watchStop)

	dest, err := net.Dial("tcp", f.Params.Destination)
	if err != nil {
		return fmt.Errorf("session: dial destination: %w", err)
	}
	f.destination = dest
	closers.add(dest)
	defer f.destination.Close()

	f.state = StateAccepting
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("session: listen: %w", err)
	}
	f.listener = listener
	closers.add(listener)

	port := listener.Addr().(*net.TCPAddr).Port
	select {
	case boundPort <- port:
	case <-ctx.Done():
		listener.Close()
		return ctx.Err()
	}

	origin, err := listener.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("session: accept origin: %w", err)
		}
	}
	f.origin = origin
	closers.add(origin)
	defer f.origin.Close()

	f.state = StateForwarding
	f.forward(ctx)

	f.state = StateDraining
	// Teardown still settles after ctx is canceled, so it gets a context
	// that does not carry the cancellation.
	f.teardown(context.WithoutCancel(ctx))
	f.state = StateTerminated
	f.listener.Close()
	return nil
}

// forward runs the main loop: two reader goroutines feed one channel that
// only this goroutine drains, preserving single-threaded accumulator
// ownership while both directions read concurrently.
func (f *Forwarder) forward(ctx context.Context) {
	events := make(chan readEvent, 2)
	done := make(chan struct{})
	defer close(done)

	go readLoop("origin", f.origin, events, done)
	go readLoop("destination", f.destination, events, done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.err != nil {
				f.logExit(ev.from, ev.err)
				return
			}
			action := f.meterData(ctx, len(ev.buf))
			if action == MeterStop {
				return
			}
			dst := f.destination
			if ev.from == "destination" {
				dst = f.origin
			}
			if _, err := dst.Write(ev.buf); err != nil {
				f.log.Warn("session: write failed, ending session", zap.String("from", ev.from), zap.Error(err))
				return
			}
		}
	}
}

func (f *Forwarder) logExit(from string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		f.log.Debug("session: peer closed", zap.String("side", from))
	case isConnReset(err):
		f.log.Debug("session: connection reset", zap.String("side", from))
	default:
		f.log.Warn("session: fatal read error", zap.String("side", from), zap.Error(err))
	}
}

func isConnReset(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "reset by peer")
}

// readLoop is the only goroutine that ever calls Read on conn. Each
// successful read is copied out (the shared buffer is reused across
// iterations) and handed to events; a read error is reported once and the
// goroutine exits.
func readLoop(name string, conn net.Conn, events chan<- readEvent, done <-chan struct{}) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case events <- readEvent{from: name, buf: cp}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case events <- readEvent{from: name, err: err}:
			case <-done:
			}
			return
		}
	}
}

// meterData is the metering step (§4.4): drain one pubsub event, compute
// cost, and either accumulate + opportunistically settle, or run a
// synchronous in-band settlement and signal the caller to stop.
func (f *Forwarder) meterData(ctx context.Context, dataAmount int) MeterAction {
	f.drainPubsubEvent()

	cost := f.businessLogic(uint64(dataAmount))

	if f.accumulator.UnsettledCharge+cost <= f.accumulator.KnownInitiatorFund {
		f.accumulator.UnsettledCharge += cost
		f.accumulator.TotalBytes += uint64(dataAmount)

		interval := time.Duration(f.Params.FeeIntervalMS) * time.Millisecond
		if time.Since(f.accumulator.LastSettleAt) > interval {
			f.trySettle(ctx)
		}
		return MeterContinue
	}

	f.synchronousSpendAndRefund(ctx)
	return MeterStop
}

func (f *Forwarder) drainPubsubEvent() {
	select {
	case ev, ok := <-f.pubsubEvents:
		if !ok {
			return
		}
		switch ev.Kind {
		case pubsub.EventMessage:
			if lamports, err := pubsub.AccountLamports(ev.Raw); err == nil {
				f.accumulator.KnownInitiatorFund = lamports
			}
		case pubsub.EventDisconnect:
			f.log.Warn("session: pubsub subscription disconnected", zap.Int("code", ev.Code), zap.String("reason", ev.Reason))
		}
	default:
	}
}

// trySettle builds and enqueues a Spend transaction for the currently
// unsettled charge. Accumulator fields are only reset once the enqueue
// itself succeeds, matching §4.4: "If it fails: leave fields untouched
// (retry on the next tick)."
func (f *Forwarder) trySettle(ctx context.Context) {
	tx, err := f.buildSpendTransaction(ctx, f.accumulator.UnsettledCharge)
	if err != nil {
		f.log.Error("session: build settlement transaction", zap.Error(err))
		return
	}
	if !f.settleQueue.Enqueue(settler.Request{Client: f.client, Transaction: tx}) {
		f.log.Warn("session: settlement queue full, deferring to next tick")
		return
	}
	f.accumulator.KnownInitiatorFund -= f.accumulator.UnsettledCharge
	f.accumulator.UnsettledCharge = 0
	f.accumulator.LastSettleAt = time.Now()
}

func (f *Forwarder) buildSpendTransaction(ctx context.Context, amount uint64) (*ledger.Transaction, error) {
	blockhash, err := f.client.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	msg := f.spendMessage(amount)
	return ledger.NewTransaction([]*ledger.Keypair{f.gatekeeper}, msg, blockhash)
}

func (f *Forwarder) spendMessage(amount uint64) ledger.Message {
	return ledger.Message{Instructions: []ledger.Instruction{{
		ProgramID: contract.ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: f.gatekeeper.Pubkey, IsSigner: true},
			{Pubkey: f.Params.ContractPubkey, IsSigner: false},
			{Pubkey: f.ContractState.ProviderID, IsSigner: false},
		},
		Data: contract.EncodeSpend(amount),
	}}}
}

func (f *Forwarder) refundMessage() ledger.Message {
	return ledger.Message{Instructions: []ledger.Instruction{{
		ProgramID: contract.ProgramID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: f.gatekeeper.Pubkey, IsSigner: true},
			{Pubkey: f.Params.ContractPubkey, IsSigner: false},
			{Pubkey: f.ContractState.InitiatorID, IsSigner: false},
		},
		Data: contract.EncodeRefund(),
	}}}
}

// synchronousSpendAndRefund runs the budget-exhausted path (§4.4 "Else"):
// a blocking Spend of the unsettled charge, then — if any balance remains
// — a blocking Refund. Both are awaited before meterData returns MeterStop.
func (f *Forwarder) synchronousSpendAndRefund(ctx context.Context) {
	if f.accumulator.UnsettledCharge > 0 {
		if _, err := f.client.SendMessage(ctx, []*ledger.Keypair{f.gatekeeper}, f.spendMessage(f.accumulator.UnsettledCharge)); err != nil {
			f.log.Error("session: budget-exhausted spend failed", zap.Error(err))
		}
		f.accumulator.UnsettledCharge = 0
	}

	balance, err := f.client.GetBalance(ctx, f.Params.ContractPubkey)
	if err != nil {
		f.log.Error("session: read contract balance before refund", zap.Error(err))
		return
	}
	if balance == 0 {
		return
	}
	if _, err := f.client.SendMessage(ctx, []*ledger.Keypair{f.gatekeeper}, f.refundMessage()); err != nil {
		f.log.Error("session: budget-exhausted refund failed", zap.Error(err))
	}
}

// teardown is the deterministic close sequence run once the forward loop
// exits for any reason: re-read the contract, charge any remainder, and
// always refund. Both instructions are best-effort — their errors are
// logged and swallowed, since the session is ending regardless.
func (f *Forwarder) teardown(ctx context.Context) {
	if _, err := f.client.GetAccountData(ctx, f.Params.ContractPubkey); err != nil {
		f.log.Warn("session: teardown contract unreadable, skipping settlement", zap.Error(err))
		return
	}

	if f.accumulator.UnsettledCharge > 0 {
		if _, err := f.client.SendMessage(ctx, []*ledger.Keypair{f.gatekeeper}, f.spendMessage(f.accumulator.UnsettledCharge)); err != nil {
			f.log.Warn("session: teardown spend failed", zap.Error(err))
		}
		f.accumulator.UnsettledCharge = 0
	}

	if _, err := f.client.SendMessage(ctx, []*ledger.Keypair{f.gatekeeper}, f.refundMessage()); err != nil {
		f.log.Warn("session: teardown refund failed", zap.Error(err))
	}
}

// State reports the forwarder's current position in its explicit state
// machine, useful for diagnostics and tests.
func (f *Forwarder) State() State { return f.state }

// Accumulator returns a copy of the session's current accumulator, safe to
// read after Run has returned.
func (f *Forwarder) Accumulator() Accumulator { return f.accumulator }
