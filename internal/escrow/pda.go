// Package escrow implements the C4 escrow client: derivation of the
// program's deterministic accounts, construction and submission of the
// init/claim/refund transactions, and decoding of the on-chain escrow and
// config account layouts.
//
// This adapts the teacher's ChainAdapter interface shape
// (src/chainadapter/adapter.go: Build/Sign/Broadcast/QueryStatus) into a
// single-chain, single-program client: CreateEscrowTx/ClaimEscrowTx/
// RefundEscrowTx/GetEscrowState against the on-chain escrow program.
package escrow

import (
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
)

const (
	escrowSeedPrefix = "escrow"
	configSeed       = "config"
)

// DeriveEscrowPDA derives the escrow account address, seeded by the
// Lightning payment hash the escrow is keyed by: escrow = ("escrow", payment_hash).
func DeriveEscrowPDA(paymentHash [32]byte, programID solana.PublicKey) (pda solana.PublicKey, bump uint8, err error) {
	return solana.FindProgramAddress(
		[][]byte{[]byte(escrowSeedPrefix), paymentHash[:]},
		programID,
	)
}

// DeriveConfigPDA derives the program's singleton fee-configuration
// account: config = ("config",).
func DeriveConfigPDA(programID solana.PublicKey) (pda solana.PublicKey, bump uint8, err error) {
	return solana.FindProgramAddress(
		[][]byte{[]byte(configSeed)},
		programID,
	)
}

// DeriveVaultATA derives the associated token account owned by the escrow
// PDA under the given mint — the vault that holds the locked tokens.
func DeriveVaultATA(escrowPDA, mint solana.PublicKey) (vault solana.PublicKey, bump uint8, err error) {
	return associatedtokenaccount.FindAssociatedTokenAddress(escrowPDA, mint)
}

// PaymentHashFromHex decodes the 64-hex wire representation of a payment
// hash into the 32-byte array the PDA derivation needs.
func PaymentHashFromHex(hexStr string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, fmt.Errorf("escrow: decode payment_hash hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("escrow: payment_hash must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
