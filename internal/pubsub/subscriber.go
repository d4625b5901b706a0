// Package pubsub subscribes to account/program/signature notifications over
// a websocket and forwards them to a single consumer. It is grounded on
// pubsub-client/src/client.rs: connect, send one subscribe request, block
// for the subscription id, then hand every subsequent frame to the caller
// untouched — the caller, not this package, parses notification payloads.
package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Method selects which JSON-RPC subscription request is sent.
type Method string

const (
	MethodAccount   Method = "accountSubscribe"
	MethodProgram   Method = "programSubscribe"
	MethodSignature Method = "signatureSubscribe"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventConnect is emitted exactly once, as soon as the socket opens,
	// before the subscription request is even sent.
	EventConnect EventKind = iota
	// EventMessage carries one raw notification frame. Its payload is
	// never parsed here — that is the session forwarder's job.
	EventMessage
	// EventDisconnect is emitted when the socket closes, for any reason.
	EventDisconnect
)

// Event is the tagged union of everything a subscription can report after
// Subscribe returns, delivered on Subscription.Events in arrival order.
type Event struct {
	Kind   EventKind
	Raw    []byte // set when Kind == EventMessage
	Code   int    // set when Kind == EventDisconnect
	Reason string // set when Kind == EventDisconnect
}

var (
	ErrConnectionFailed  = errors.New("pubsub: connection could not be established")
	ErrConnectionDropped = errors.New("pubsub: connection dropped before subscription completed")
	ErrSubscriptionFailed = errors.New("pubsub: subscription request was not acknowledged")
	ErrDoubleConnect     = errors.New("pubsub: received a second connect event on one socket")
)

// Subscription is a live websocket subscription. Events arrives events in
// order; Close tears down the underlying socket.
type Subscription struct {
	SubscriptionID uint64
	Events         <-chan Event

	conn *websocket.Conn
	done chan struct{}
}

// Close closes the underlying socket and stops the read loop. Safe to call
// more than once.
func (s *Subscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.conn.Close()
}

type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  Method        `json:"method"`
	Params  []interface{} `json:"params"`
}

type subscribeReply struct {
	Result *uint64 `json:"result"`
}

// Subscribe dials addr, sends a method subscription for param (typically a
// base58 pubkey), and blocks until either the subscription id is confirmed
// or the attempt fails. On success it returns a Subscription whose Events
// channel has already delivered EventConnect.
func Subscribe(addr string, method Method, param string, log *zap.Logger) (*Subscription, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	events := make(chan Event, 64)
	done := make(chan struct{})
	connected := make(chan struct{})

	go readLoop(conn, events, done, connected, log)

	select {
	case <-connected:
	case <-done:
		return nil, ErrConnectionFailed
	}

	req := subscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  []interface{}{param},
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	subID, err := awaitSubscriptionID(events)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Subscription{
		SubscriptionID: subID,
		Events:         events,
		conn:           conn,
		done:           done,
	}, nil
}

// awaitSubscriptionID consumes events until it sees the subscribe reply's
// numeric result, or the connection drops first.
func awaitSubscriptionID(events <-chan Event) (uint64, error) {
	for ev := range events {
		switch ev.Kind {
		case EventMessage:
			var reply subscribeReply
			if err := json.Unmarshal(ev.Raw, &reply); err != nil || reply.Result == nil {
				return 0, ErrSubscriptionFailed
			}
			return *reply.Result, nil
		case EventDisconnect:
			return 0, ErrConnectionDropped
		}
	}
	return 0, ErrConnectionDropped
}

// readLoop owns the websocket connection exclusively: it is the only
// goroutine that ever calls ReadMessage. connected is closed once, the
// instant the dial succeeds, mirroring the original's one-shot Connect
// event; a second attempt to signal it is a DoubleConnect bug and is
// logged rather than panicking the reader.
func readLoop(conn *websocket.Conn, events chan<- Event, done chan struct{}, connected chan struct{}, log *zap.Logger) {
	defer close(events)

	select {
	case <-connected:
		log.Error("pubsub: double connect", zap.Error(ErrDoubleConnect))
	default:
		close(connected)
	}
	select {
	case events <- Event{Kind: EventConnect}:
	case <-done:
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			select {
			case events <- Event{Kind: EventDisconnect, Code: code, Reason: reason}:
			case <-done:
			}
			return
		}
		select {
		case events <- Event{Kind: EventMessage, Raw: raw}:
		case <-done:
			return
		}
	}
}

func closeInfo(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// AccountLamports extracts params.result.lamports from one notification
// frame, the shape the original's ad-hoc JSON path extraction assumed
// (see spec open question 4: params.result.lamports).
func AccountLamports(raw []byte) (uint64, error) {
	var frame struct {
		Params struct {
			Result struct {
				Lamports uint64 `json:"lamports"`
			} `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return 0, fmt.Errorf("pubsub: malformed notification: %w", err)
	}
	return frame.Params.Result.Lamports, nil
}
