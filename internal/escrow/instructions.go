package escrow

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// buildInstructionData writes tag followed by the little-endian encoding of
// each field in args, matching the account layouts' own LE convention.
func buildInstructionData(tag InstructionTag, args ...interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := buf.WriteByte(byte(tag)); err != nil {
		return nil, err
	}
	for _, a := range args {
		switch v := a.(type) {
		case [32]byte:
			buf.Write(v[:])
		case uint64:
			if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		case int64:
			if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		case uint16:
			if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("escrow: unsupported instruction arg type %T", a)
		}
	}
	return buf.Bytes(), nil
}

// initInstruction builds tag=0 Init: creates the escrow PDA and records the
// HTLC terms and expected fee split. The trade fee collector is carried as
// an account, not account-layout data: the v2 EscrowAccount's fixed 221
// bytes have room for only the platform fee_collector, so the trade
// collector is supplied fresh by whichever party builds claim_escrow_tx,
// the same way claimInstruction already takes it as an account rather than
// reading it back from chain state.
func initInstruction(programID, payer, escrowPDA, vaultATA, mint, recipient, refund, platformFeeCollector, tradeFeeCollector solana.PublicKey,
	paymentHash [32]byte, refundAfterUnix int64, netAmount uint64, platformFeeBps, tradeFeeBps uint16) (solana.Instruction, error) {

	data, err := buildInstructionData(InstructionInit, paymentHash, refundAfterUnix, netAmount, platformFeeBps, tradeFeeBps)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(vaultATA, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(recipient, false, false),
		solana.NewAccountMeta(refund, false, false),
		solana.NewAccountMeta(platformFeeCollector, false, false),
		solana.NewAccountMeta(tradeFeeCollector, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// claimInstruction builds tag=1 Claim: reveals the preimage and releases
// the net amount to the recipient plus split fees to their collectors.
func claimInstruction(programID, recipientSigner, recipientTokenAccount, escrowPDA, vaultATA, mint, platformFeeCollector, tradeFeeCollector solana.PublicKey, preimage [32]byte) (solana.Instruction, error) {
	data, err := buildInstructionData(InstructionClaim, preimage)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(recipientSigner, true, true),
		solana.NewAccountMeta(recipientTokenAccount, true, false),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(vaultATA, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(platformFeeCollector, true, false),
		solana.NewAccountMeta(tradeFeeCollector, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// refundInstruction builds tag=2 Refund: returns the vault balance to the
// refund authority once the chain clock has passed refund_after.
func refundInstruction(programID, refundSigner, refundTokenAccount, escrowPDA, vaultATA, mint solana.PublicKey) (solana.Instruction, error) {
	data, err := buildInstructionData(InstructionRefund)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(refundSigner, true, true),
		solana.NewAccountMeta(refundTokenAccount, true, false),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(vaultATA, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// withdrawFeesInstruction builds tag=5 WithdrawFees for the operator
// fee-collector CLI (escrowctl fees-withdraw).
func withdrawFeesInstruction(programID, authority, configPDA, feeCollectorTokenAccount, vaultATA, mint solana.PublicKey, amount uint64) (solana.Instruction, error) {
	data, err := buildInstructionData(InstructionWithdrawFees, amount)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(configPDA, true, false),
		solana.NewAccountMeta(feeCollectorTokenAccount, true, false),
		solana.NewAccountMeta(vaultATA, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// initConfigInstruction builds tag=3 InitConfig: creates the program's
// singleton fee-configuration account, run once by the deploying operator.
func initConfigInstruction(programID, payer, configPDA, feeCollector solana.PublicKey, feeBps uint16) (solana.Instruction, error) {
	data, err := buildInstructionData(InstructionInitConfig, feeBps)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(configPDA, true, false),
		solana.NewAccountMeta(feeCollector, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// setConfigInstruction builds tag=4 SetConfig: the config authority updates
// the fee collector address and/or fee_bps on the existing config account.
func setConfigInstruction(programID, authority, configPDA, newFeeCollector solana.PublicKey, newFeeBps uint16) (solana.Instruction, error) {
	data, err := buildInstructionData(InstructionSetConfig, newFeeBps)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(configPDA, true, false),
		solana.NewAccountMeta(newFeeCollector, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}
