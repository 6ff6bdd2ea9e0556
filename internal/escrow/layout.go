package escrow

import (
	"encoding/binary"
	"fmt"
)

// On-chain account layouts for the escrow program. Decode/encode follows the
// teacher's offset-based binary codec discipline
// (internal/services/crypto/encryption.go's Serialize/DeserializeEncryptedData),
// generalized from an AES-GCM envelope to the escrow program's fixed-width
// account layouts. Multi-byte integers are little-endian here (matching the
// Solana/Borsh convention), unlike the teacher's big-endian encrypted-blob
// header — each format follows its own wire convention.

// EscrowStatus is the decoded status byte.
type EscrowStatus uint8

const (
	EscrowStatusActive   EscrowStatus = 0
	EscrowStatusClaimed  EscrowStatus = 1
	EscrowStatusRefunded EscrowStatus = 2
)

const (
	// EscrowAccountLenV2 is the fixed size of a v2 escrow account: 221 bytes.
	EscrowAccountLenV2 = 1 + 1 + 32 + 32 + 32 + 8 + 32 + 8 + 8 + 2 + 32 + 32 + 1
	// ConfigAccountLenV1 is the fixed size of a v1 config account: 68 bytes.
	ConfigAccountLenV1 = 1 + 32 + 32 + 2 + 1
)

// EscrowAccount is the decoded v2 escrow account layout (221 bytes):
// v:u8=2, status:u8, payment_hash:[u8;32], recipient:[u8;32], refund:[u8;32],
// refund_after:i64 LE, mint:[u8;32], net_amount:u64 LE, fee_amount:u64 LE,
// fee_bps:u16 LE, fee_collector:[u8;32], vault:[u8;32], bump:u8.
type EscrowAccount struct {
	Version      uint8
	Status       EscrowStatus
	PaymentHash  [32]byte
	Recipient    [32]byte
	Refund       [32]byte
	RefundAfter  int64
	Mint         [32]byte
	NetAmount    uint64
	FeeAmount    uint64
	FeeBps       uint16
	FeeCollector [32]byte
	Vault        [32]byte
	Bump         uint8
}

// DecodeEscrowAccount decodes the fixed-width v2 account layout.
// Accounts created before the platform+trade fee split (v1, 189 bytes) are
// not round-tripped here: the escrow program this engine targets always
// writes v2, per SPEC_FULL's domain binding.
func DecodeEscrowAccount(data []byte) (*EscrowAccount, error) {
	if len(data) < EscrowAccountLenV2 {
		return nil, fmt.Errorf("escrow: account data too short: %d < %d", len(data), EscrowAccountLenV2)
	}
	offset := 0
	a := &EscrowAccount{}

	a.Version = data[offset]
	offset++
	if a.Version != 2 {
		return nil, fmt.Errorf("escrow: unsupported account version %d", a.Version)
	}

	a.Status = EscrowStatus(data[offset])
	offset++

	copy(a.PaymentHash[:], data[offset:offset+32])
	offset += 32
	copy(a.Recipient[:], data[offset:offset+32])
	offset += 32
	copy(a.Refund[:], data[offset:offset+32])
	offset += 32

	a.RefundAfter = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	copy(a.Mint[:], data[offset:offset+32])
	offset += 32

	a.NetAmount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	a.FeeAmount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	a.FeeBps = binary.LittleEndian.Uint16(data[offset:])
	offset += 2

	copy(a.FeeCollector[:], data[offset:offset+32])
	offset += 32
	copy(a.Vault[:], data[offset:offset+32])
	offset += 32

	a.Bump = data[offset]

	return a, nil
}

// ConfigAccount is the decoded v1 config account layout (68 bytes):
// v:u8=1, authority:[u8;32], fee_collector:[u8;32], fee_bps:u16 LE, bump:u8.
type ConfigAccount struct {
	Version      uint8
	Authority    [32]byte
	FeeCollector [32]byte
	FeeBps       uint16
	Bump         uint8
}

// DecodeConfigAccount decodes the fixed-width v1 config layout.
func DecodeConfigAccount(data []byte) (*ConfigAccount, error) {
	if len(data) < ConfigAccountLenV1 {
		return nil, fmt.Errorf("escrow: config account data too short: %d < %d", len(data), ConfigAccountLenV1)
	}
	offset := 0
	c := &ConfigAccount{}

	c.Version = data[offset]
	offset++
	if c.Version != 1 {
		return nil, fmt.Errorf("escrow: unsupported config version %d", c.Version)
	}

	copy(c.Authority[:], data[offset:offset+32])
	offset += 32
	copy(c.FeeCollector[:], data[offset:offset+32])
	offset += 32

	c.FeeBps = binary.LittleEndian.Uint16(data[offset:])
	offset += 2

	c.Bump = data[offset]

	return c, nil
}

// InstructionTag is the first byte of every instruction's data, selecting
// which of the program's six operations to run.
type InstructionTag uint8

const (
	InstructionInit         InstructionTag = 0
	InstructionClaim        InstructionTag = 1
	InstructionRefund       InstructionTag = 2
	InstructionInitConfig   InstructionTag = 3
	InstructionSetConfig    InstructionTag = 4
	InstructionWithdrawFees InstructionTag = 5
)
