// Package ledger provides the account, instruction, and transaction
// primitives the gatekeeper needs to talk to the bandwidth-prepay ledger,
// plus the Client interface that abstracts the fullnode RPC surface.
package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// PubkeySize is the fixed width of every public key on the ledger.
const PubkeySize = 32

// Pubkey is a 32-byte ed25519 public key identifying an account.
type Pubkey [PubkeySize]byte

// ZeroPubkey is the default, "not yet assigned" key value.
var ZeroPubkey = Pubkey{}

// NewPubkeyFromBase58 decodes a base58-encoded pubkey, failing unless the
// decoded payload is exactly PubkeySize bytes.
func NewPubkeyFromBase58(s string) (Pubkey, error) {
	var pk Pubkey
	raw := base58.Decode(s)
	if len(raw) != PubkeySize {
		return pk, fmt.Errorf("ledger: invalid pubkey length %d (want %d)", len(raw), PubkeySize)
	}
	copy(pk[:], raw)
	return pk, nil
}

func (pk Pubkey) String() string {
	return base58.Encode(pk[:])
}

// MarshalJSON encodes the pubkey as its base58 string, matching the wire
// representation used by the control plane and pubsub notifications.
func (pk Pubkey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

func (pk *Pubkey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := NewPubkeyFromBase58(s)
	if err != nil {
		return err
	}
	*pk = decoded
	return nil
}

// IsZero reports whether every byte of the key is zero, the sentinel for
// "never initialized".
func (pk Pubkey) IsZero() bool {
	return pk == ZeroPubkey
}

// Keypair is a gatekeeper or initiator identity: an ed25519 signing key
// plus the pubkey derived from it.
type Keypair struct {
	Pubkey  Pubkey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh random ed25519 identity. Used by tests
// and by tooling that provisions new contract participants.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ledger: generate keypair: %w", err)
	}
	var pk Pubkey
	copy(pk[:], pub)
	return &Keypair{Pubkey: pk, Private: priv}, nil
}

// KeypairFromSecret rebuilds a Keypair from a 64-byte ed25519 expanded
// secret key (32-byte seed followed by the 32-byte public key), the form
// solana-keygen writes to a keypair file. Used by internal/keystore to
// load the gatekeeper's on-disk identity.
func KeypairFromSecret(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ledger: secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}
	priv := ed25519.PrivateKey(append([]byte(nil), secret...))
	var pk Pubkey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{Pubkey: pk, Private: priv}, nil
}

// Sign produces a detached ed25519 signature over msg.
func (kp *Keypair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(kp.Private, msg))
	return sig
}

// SignatureSize is the fixed width of an ed25519 signature.
const SignatureSize = 64

// Signature is a detached ed25519 signature.
type Signature [SignatureSize]byte

func (s Signature) String() string { return base58.Encode(s[:]) }

// Verify checks that sig is a valid ed25519 signature over msg by signer.
func Verify(signer Pubkey, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), msg, sig[:])
}
