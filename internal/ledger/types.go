package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Account is the ledger's view of one account: its lamport balance, the
// raw program-owned data blob, and the program that owns it.
type Account struct {
	Lamports uint64 `json:"lamports"`
	Data     []byte `json:"data"`
	Owner    Pubkey `json:"owner"`
}

// accountWire mirrors the notification shape the pubsub layer forwards:
// {"lamports": ..., "data": ..., "owner": "..."}. Kept separate from
// Account so changes to the public struct don't silently change the wire
// contract the subscriber parses (see §8's literal "params.result.lamports").
type accountWire struct {
	Lamports uint64 `json:"lamports"`
	Data     []byte `json:"data"`
	Owner    Pubkey `json:"owner"`
}

func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(accountWire(a))
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var w accountWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Account(w)
	return nil
}

// Blockhash anchors a transaction to a recent ledger state so the runtime
// can reject stale or replayed submissions.
type Blockhash [32]byte

// AccountMeta describes one account reference within an Instruction: which
// account, and whether the instruction requires it to have signed.
type AccountMeta struct {
	Pubkey   Pubkey
	IsSigner bool
}

// Instruction is a single program invocation: a target program id, the
// accounts it touches in order, and the opaque, program-defined payload.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Message bundles one or more instructions that execute atomically.
type Message struct {
	Instructions []Instruction
}

// Transaction is a Message plus the signatures of every signer account it
// names, in the order those accounts first appear across its instructions.
type Transaction struct {
	Message    Message
	Blockhash  Blockhash
	Signatures []Signature
}

// NewTransaction builds and signs a transaction over msg with the given
// blockhash. Signers must cover every account marked IsSigner across the
// message's instructions, and are signed in the order they first appear.
func NewTransaction(signers []*Keypair, msg Message, blockhash Blockhash) (*Transaction, error) {
	order := signerOrder(msg)
	tx := &Transaction{Message: msg, Blockhash: blockhash}
	digest := signingDigest(msg, blockhash)
	for _, want := range order {
		kp := findSigner(signers, want)
		if kp == nil {
			return nil, fmt.Errorf("ledger: missing signer for %s", want)
		}
		tx.Signatures = append(tx.Signatures, kp.Sign(digest[:]))
	}
	return tx, nil
}

func findSigner(signers []*Keypair, want Pubkey) *Keypair {
	for _, s := range signers {
		if s.Pubkey == want {
			return s
		}
	}
	return nil
}

// signerOrder returns the distinct signer pubkeys in first-appearance order.
func signerOrder(msg Message) []Pubkey {
	var order []Pubkey
	seen := make(map[Pubkey]bool)
	for _, ix := range msg.Instructions {
		for _, am := range ix.Accounts {
			if am.IsSigner && !seen[am.Pubkey] {
				seen[am.Pubkey] = true
				order = append(order, am.Pubkey)
			}
		}
	}
	return order
}

// signingDigest is the bytes every signature in a Transaction attests to:
// the blockhash followed by a stable encoding of the message. Using a hash
// keeps signatures fixed-size regardless of instruction payload length.
func signingDigest(msg Message, blockhash Blockhash) [32]byte {
	h := sha256.New()
	h.Write(blockhash[:])
	for _, ix := range msg.Instructions {
		h.Write(ix.ProgramID[:])
		for _, am := range ix.Accounts {
			h.Write(am.Pubkey[:])
			if am.IsSigner {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		}
		h.Write(ix.Data)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Verify reports whether every required signer has a matching valid
// signature over the transaction's signing digest.
func (tx *Transaction) Verify() bool {
	order := signerOrder(tx.Message)
	if len(order) != len(tx.Signatures) {
		return false
	}
	digest := signingDigest(tx.Message, tx.Blockhash)
	for i, signer := range order {
		if !Verify(signer, digest[:], tx.Signatures[i]) {
			return false
		}
	}
	return true
}
