// Package contract implements the prepay contract program: the
// three-instruction state machine (initialize, spend, refund) that lives
// at a single fixed program id and governs one contract account's
// lamport balance. It is grounded on bandwidth_prepay_state.rs and
// bandwidth_prepay_processor.rs from the original implementation.
package contract

import (
	"encoding/binary"
	"fmt"

	"github.com/solana-labs/solana-voib-demo/internal/ledger"
)

// StateSize is the fixed, byte-stable serialization size of PrepayState:
// three 32-byte pubkeys.
const StateSize = 3 * ledger.PubkeySize

// ProgramID is the fixed 32-byte identifier of the prepay contract program,
// with first byte 0x80 and the rest zero, per §6.
var ProgramID = func() ledger.Pubkey {
	var id ledger.Pubkey
	id[0] = 0x80
	return id
}()

// PrepayState is the ledger-resident record created by InitializeAccount.
// Field order is fixed and defines the wire layout: GatekeeperID,
// ProviderID, InitiatorID, 32 bytes each, concatenated with no padding.
type PrepayState struct {
	GatekeeperID ledger.Pubkey
	ProviderID   ledger.Pubkey
	InitiatorID  ledger.Pubkey
}

// IsDefault reports whether every field is the zero pubkey, i.e. the
// account has never been initialized.
func (s PrepayState) IsDefault() bool {
	return s.GatekeeperID.IsZero() && s.ProviderID.IsZero() && s.InitiatorID.IsZero()
}

// Serialize writes the 96-byte wire form of s into output. output must be
// at least StateSize bytes; a shorter buffer fails with ErrUserdataTooSmall
// and leaves output untouched.
func (s PrepayState) Serialize(output []byte) error {
	if len(output) < StateSize {
		return ErrUserdataTooSmall
	}
	copy(output[0:32], s.GatekeeperID[:])
	copy(output[32:64], s.ProviderID[:])
	copy(output[64:96], s.InitiatorID[:])
	return nil
}

// DeserializeState parses the 96-byte wire form written by Serialize.
func DeserializeState(input []byte) (PrepayState, error) {
	var s PrepayState
	if len(input) < StateSize {
		return s, ErrUserdataDeserializeFailure
	}
	copy(s.GatekeeperID[:], input[0:32])
	copy(s.ProviderID[:], input[32:64])
	copy(s.InitiatorID[:], input[64:96])
	return s, nil
}

// InstructionTag selects which of the three instructions a PrepayInstruction
// encodes.
type InstructionTag uint32

const (
	TagInitializeAccount InstructionTag = iota
	TagSpend
	TagRefund
)

// PrepayInstruction is the wire-serialized request body: a 4-byte
// little-endian tag, followed by a tag-specific payload (8-byte
// little-endian amount for Spend, nothing otherwise). This is the
// "length-prefixed-variant-tagged" encoding called for in §3, modeled on
// bincode's enum representation in the original.
type PrepayInstruction struct {
	Tag    InstructionTag
	Amount uint64 // valid only when Tag == TagSpend
}

// EncodeInitializeAccount builds the wire form of an InitializeAccount instruction.
func EncodeInitializeAccount() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(TagInitializeAccount))
	return buf
}

// EncodeSpend builds the wire form of a Spend(amount) instruction.
func EncodeSpend(amount uint64) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(TagSpend))
	binary.LittleEndian.PutUint64(buf[4:12], amount)
	return buf
}

// EncodeRefund builds the wire form of a Refund instruction.
func EncodeRefund() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(TagRefund))
	return buf
}

// DecodeInstruction parses the tagged wire format produced by the Encode*
// helpers. A payload too short to carry its tag's fields, or an unknown
// tag, fails with ErrInvalidInstructionData.
func DecodeInstruction(data []byte) (PrepayInstruction, error) {
	if len(data) < 4 {
		return PrepayInstruction{}, ErrInvalidInstructionData
	}
	tag := InstructionTag(binary.LittleEndian.Uint32(data[0:4]))
	switch tag {
	case TagInitializeAccount, TagRefund:
		return PrepayInstruction{Tag: tag}, nil
	case TagSpend:
		if len(data) < 12 {
			return PrepayInstruction{}, ErrInvalidInstructionData
		}
		amount := binary.LittleEndian.Uint64(data[4:12])
		return PrepayInstruction{Tag: TagSpend, Amount: amount}, nil
	default:
		return PrepayInstruction{}, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstructionData, tag)
	}
}
