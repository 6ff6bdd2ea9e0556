package escrow

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/intercomswap/swapcore/internal/protocol"
)

// Client is the C4 escrow client contract: derive PDAs, build/sign/submit
// the program's instructions, and decode on-chain state. Adapted from the
// teacher's ChainAdapter interface (Build/Sign/Broadcast/QueryStatus)
// narrowed to one chain and one program.
type Client interface {
	CreateEscrowTx(ctx context.Context, req CreateEscrowRequest) (*SubmitResult, error)
	ClaimEscrowTx(ctx context.Context, req ClaimEscrowRequest) (*SubmitResult, error)
	RefundEscrowTx(ctx context.Context, req RefundEscrowRequest) (*SubmitResult, error)
	GetEscrowState(ctx context.Context, paymentHashHex string) (*EscrowAccount, error)
	VerifyEscrowOnChain(ctx context.Context, want ExpectedEscrow) (*EscrowAccount, *protocol.SwapError)
}

// CreateEscrowRequest carries the parameters of create_escrow_tx.
type CreateEscrowRequest struct {
	Payer                solana.PrivateKey
	PayerTokenAccount    solana.PublicKey
	Mint                 solana.PublicKey
	PaymentHash          [32]byte
	Recipient            solana.PublicKey
	Refund               solana.PublicKey
	RefundAfterUnix      int64
	NetAmount            uint64
	PlatformFeeBps       uint16
	TradeFeeBps          uint16
	PlatformFeeCollector solana.PublicKey
	TradeFeeCollector    solana.PublicKey
}

// ClaimEscrowRequest carries the parameters of claim_escrow_tx.
type ClaimEscrowRequest struct {
	RecipientSigner        solana.PrivateKey
	RecipientTokenAccount  solana.PublicKey
	Mint                   solana.PublicKey
	PaymentHash            [32]byte
	Preimage               [32]byte
	PlatformFeeCollector   solana.PublicKey
	TradeFeeCollector      solana.PublicKey
}

// RefundEscrowRequest carries the parameters of refund_escrow_tx.
type RefundEscrowRequest struct {
	RefundSigner       solana.PrivateKey
	RefundTokenAccount solana.PublicKey
	Mint               solana.PublicKey
	PaymentHash        [32]byte
}

// ExpectedEscrow is what the taker asserts the on-chain escrow must equal
// before paying the Lightning invoice, via verify_escrow_on_chain.
type ExpectedEscrow struct {
	ProgramID       solana.PublicKey
	Mint            solana.PublicKey
	Recipient       solana.PublicKey
	Refund          solana.PublicKey
	PaymentHash     [32]byte
	RefundAfterUnix int64
	NetAmount       uint64
}

// SubmitResult is the outcome of a submitted, confirmed transaction.
type SubmitResult struct {
	Signature solana.Signature
	EscrowPDA solana.PublicKey
	VaultATA  solana.PublicKey
}

// SolanaClient implements Client against a live Solana cluster via
// solana-go/rpc, grounded on the teacher's RPC-endpoint-with-failover shape
// (src/chainadapter/provider/registry.go) narrowed to a single endpoint
// list instead of a multi-chain provider registry.
type SolanaClient struct {
	rpcClient       *rpc.Client
	programID       solana.PublicKey
	confirmTimeout  time.Duration
}

// NewSolanaClient builds a client against the given cluster RPC endpoint.
func NewSolanaClient(endpoint string, programID solana.PublicKey) *SolanaClient {
	return &SolanaClient{
		rpcClient:      rpc.New(endpoint),
		programID:      programID,
		confirmTimeout: 30 * time.Second,
	}
}

func (c *SolanaClient) CreateEscrowTx(ctx context.Context, req CreateEscrowRequest) (*SubmitResult, error) {
	escrowPDA, _, err := DeriveEscrowPDA(req.PaymentHash, c.programID)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive escrow pda", protocol.Terminal, err)
	}
	vaultATA, _, err := DeriveVaultATA(escrowPDA, req.Mint)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive vault ata", protocol.Terminal, err)
	}

	createATA := associatedtokenaccount.NewCreateInstruction(
		req.Payer.PublicKey(), escrowPDA, req.Mint,
	).Build()

	initIx, err := initInstruction(
		c.programID, req.Payer.PublicKey(), escrowPDA, vaultATA, req.Mint,
		req.Recipient, req.Refund, req.PlatformFeeCollector, req.TradeFeeCollector,
		req.PaymentHash, req.RefundAfterUnix, req.NetAmount, req.PlatformFeeBps, req.TradeFeeBps,
	)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "build init instruction", protocol.Terminal, err)
	}

	sig, err := c.buildSignSubmit(ctx, req.Payer, []solana.Instruction{createATA, initIx})
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrChainSubmitFailed, "submit create_escrow_tx", protocol.Retryable, err)
	}
	return &SubmitResult{Signature: sig, EscrowPDA: escrowPDA, VaultATA: vaultATA}, nil
}

func (c *SolanaClient) ClaimEscrowTx(ctx context.Context, req ClaimEscrowRequest) (*SubmitResult, error) {
	computed := sha256.Sum256(req.Preimage[:])
	if computed != req.PaymentHash {
		return nil, protocol.NewSwapError(protocol.ErrSchemaInvalid, "preimage does not hash to payment_hash", protocol.LocalDrop, nil)
	}

	escrowPDA, _, err := DeriveEscrowPDA(req.PaymentHash, c.programID)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive escrow pda", protocol.Terminal, err)
	}
	vaultATA, _, err := DeriveVaultATA(escrowPDA, req.Mint)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive vault ata", protocol.Terminal, err)
	}

	claimIx, err := claimInstruction(
		c.programID, req.RecipientSigner.PublicKey(), req.RecipientTokenAccount,
		escrowPDA, vaultATA, req.Mint, req.PlatformFeeCollector, req.TradeFeeCollector, req.Preimage,
	)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "build claim instruction", protocol.Terminal, err)
	}

	sig, err := c.buildSignSubmit(ctx, req.RecipientSigner, []solana.Instruction{claimIx})
	if err != nil {
		// claim failures with a genuinely valid preimage are retried by the
		// taker engine until refund_after_unix.
		return nil, protocol.NewSwapError(protocol.ErrChainSubmitFailed, "submit claim_escrow_tx", protocol.Retryable, err)
	}
	return &SubmitResult{Signature: sig, EscrowPDA: escrowPDA, VaultATA: vaultATA}, nil
}

func (c *SolanaClient) RefundEscrowTx(ctx context.Context, req RefundEscrowRequest) (*SubmitResult, error) {
	escrowPDA, _, err := DeriveEscrowPDA(req.PaymentHash, c.programID)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive escrow pda", protocol.Terminal, err)
	}
	vaultATA, _, err := DeriveVaultATA(escrowPDA, req.Mint)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive vault ata", protocol.Terminal, err)
	}

	refundIx, err := refundInstruction(c.programID, req.RefundSigner.PublicKey(), req.RefundTokenAccount, escrowPDA, vaultATA, req.Mint)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "build refund instruction", protocol.Terminal, err)
	}

	sig, err := c.buildSignSubmit(ctx, req.RefundSigner, []solana.Instruction{refundIx})
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrChainSubmitFailed, "submit refund_escrow_tx", protocol.Retryable, err)
	}
	return &SubmitResult{Signature: sig, EscrowPDA: escrowPDA, VaultATA: vaultATA}, nil
}

func (c *SolanaClient) GetEscrowState(ctx context.Context, paymentHashHex string) (*EscrowAccount, error) {
	paymentHash, err := PaymentHashFromHex(paymentHashHex)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrSchemaInvalid, "bad payment_hash", protocol.LocalDrop, err)
	}
	escrowPDA, _, err := DeriveEscrowPDA(paymentHash, c.programID)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive escrow pda", protocol.Terminal, err)
	}

	info, err := c.rpcClient.GetAccountInfoWithOpts(ctx, escrowPDA, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrChainTimeout, "get_account_info escrow pda", protocol.Retryable, err)
	}
	if info == nil || info.Value == nil {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "escrow account does not exist on chain", protocol.Terminal, nil)
	}

	account, derr := DecodeEscrowAccount(info.Value.Data.GetBinary())
	if derr != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "decode escrow account", protocol.Terminal, derr)
	}
	return account, nil
}

// VerifyEscrowOnChain is the taker-side guard before paying the Lightning
// invoice. Any mismatch is fatal: the caller must not pay.
func (c *SolanaClient) VerifyEscrowOnChain(ctx context.Context, want ExpectedEscrow) (*EscrowAccount, *protocol.SwapError) {
	escrowPDA, _, err := DeriveEscrowPDA(want.PaymentHash, want.ProgramID)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive escrow pda", protocol.Terminal, err)
	}
	vaultATA, _, err := DeriveVaultATA(escrowPDA, want.Mint)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "derive vault ata", protocol.Terminal, err)
	}

	info, err := c.rpcClient.GetAccountInfoWithOpts(ctx, escrowPDA, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrChainTimeout, "get_account_info escrow pda", protocol.Retryable, err)
	}
	if info == nil || info.Value == nil {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "escrow account does not exist on chain", protocol.Terminal, nil)
	}

	account, derr := DecodeEscrowAccount(info.Value.Data.GetBinary())
	if derr != nil {
		return nil, protocol.NewSwapError(protocol.ErrInternal, "decode escrow account", protocol.Terminal, derr)
	}

	if account.PaymentHash != want.PaymentHash {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "on-chain payment_hash mismatch", protocol.Terminal, nil)
	}
	if solana.PublicKeyFromBytes(account.Recipient[:]) != want.Recipient {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "on-chain recipient mismatch", protocol.Terminal, nil)
	}
	if solana.PublicKeyFromBytes(account.Refund[:]) != want.Refund {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "on-chain refund authority mismatch", protocol.Terminal, nil)
	}
	if solana.PublicKeyFromBytes(account.Mint[:]) != want.Mint {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "on-chain mint mismatch", protocol.Terminal, nil)
	}
	if account.RefundAfter != want.RefundAfterUnix {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "on-chain refund_after mismatch", protocol.Terminal, nil)
	}
	if account.NetAmount != want.NetAmount {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "on-chain net_amount mismatch", protocol.Terminal, nil)
	}

	vaultBalance, err := c.rpcClient.GetTokenAccountBalance(ctx, vaultATA, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrChainTimeout, "get vault token balance", protocol.Retryable, err)
	}
	expectedTotal := account.NetAmount + account.FeeAmount
	if vaultBalance == nil || vaultBalance.Value == nil || vaultBalance.Value.Amount != fmt.Sprintf("%d", expectedTotal) {
		return nil, protocol.NewSwapError(protocol.ErrEscrowMismatch, "vault does not hold net+fees", protocol.Terminal, nil)
	}

	return account, nil
}

func (c *SolanaClient) buildSignSubmit(ctx context.Context, payer solana.PrivateKey, instructions []solana.Instruction) (solana.Signature, error) {
	recent, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	if err := c.awaitConfirmation(confirmCtx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

func (c *SolanaClient) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for confirmation of %s", sig)
		case <-ticker.C:
			statuses, err := c.rpcClient.GetSignatureStatuses(ctx, true, sig)
			if err != nil || statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			st := statuses.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
