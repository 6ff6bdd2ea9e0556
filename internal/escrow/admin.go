package escrow

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// AdminClient covers the operator-only surface cmd/escrowctl drives:
// reading and updating the program's fee config and withdrawing
// accumulated fees. Kept separate from Client so the maker/taker engines
// never need to depend on it.
type AdminClient interface {
	GetConfigState(ctx context.Context) (*ConfigAccount, error)
	InitConfig(ctx context.Context, req InitConfigRequest) (*SubmitResult, error)
	SetConfig(ctx context.Context, req SetConfigRequest) (*SubmitResult, error)
	GetFeeBalance(ctx context.Context, mint solana.PublicKey) (uint64, error)
	WithdrawFees(ctx context.Context, req WithdrawFeesRequest) (*SubmitResult, error)
}

// InitConfigRequest carries the parameters of init_config_tx, run once
// against a freshly deployed program.
type InitConfigRequest struct {
	Payer        solana.PrivateKey
	FeeCollector solana.PublicKey
	FeeBps       uint16
}

// SetConfigRequest carries the parameters of set_config_tx.
type SetConfigRequest struct {
	Authority       solana.PrivateKey
	NewFeeCollector solana.PublicKey
	NewFeeBps       uint16
}

// WithdrawFeesRequest carries the parameters of withdraw_fees_tx.
type WithdrawFeesRequest struct {
	Authority                solana.PrivateKey
	FeeCollectorTokenAccount solana.PublicKey
	VaultATA                 solana.PublicKey
	Mint                     solana.PublicKey
	Amount                   uint64
}

var _ AdminClient = (*SolanaClient)(nil)

// GetConfigState reads and decodes the program's singleton config account.
func (c *SolanaClient) GetConfigState(ctx context.Context) (*ConfigAccount, error) {
	configPDA, _, err := DeriveConfigPDA(c.programID)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive config pda: %w", err)
	}
	info, err := c.rpcClient.GetAccountInfoWithOpts(ctx, configPDA, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow: get_account_info config pda: %w", err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("escrow: config account does not exist on chain; run config-init first")
	}
	return DecodeConfigAccount(info.Value.Data.GetBinary())
}

// InitConfig submits init_config_tx, creating the program's fee-config
// account. Must be run exactly once per deployment.
func (c *SolanaClient) InitConfig(ctx context.Context, req InitConfigRequest) (*SubmitResult, error) {
	configPDA, _, err := DeriveConfigPDA(c.programID)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive config pda: %w", err)
	}
	ix, err := initConfigInstruction(c.programID, req.Payer.PublicKey(), configPDA, req.FeeCollector, req.FeeBps)
	if err != nil {
		return nil, fmt.Errorf("escrow: build init_config instruction: %w", err)
	}
	sig, err := c.buildSignSubmit(ctx, req.Payer, []solana.Instruction{ix})
	if err != nil {
		return nil, fmt.Errorf("escrow: submit init_config_tx: %w", err)
	}
	return &SubmitResult{Signature: sig, EscrowPDA: configPDA}, nil
}

// SetConfig submits set_config_tx, updating the fee collector and/or
// fee_bps on the already-initialized config account.
func (c *SolanaClient) SetConfig(ctx context.Context, req SetConfigRequest) (*SubmitResult, error) {
	configPDA, _, err := DeriveConfigPDA(c.programID)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive config pda: %w", err)
	}
	ix, err := setConfigInstruction(c.programID, req.Authority.PublicKey(), configPDA, req.NewFeeCollector, req.NewFeeBps)
	if err != nil {
		return nil, fmt.Errorf("escrow: build set_config instruction: %w", err)
	}
	sig, err := c.buildSignSubmit(ctx, req.Authority, []solana.Instruction{ix})
	if err != nil {
		return nil, fmt.Errorf("escrow: submit set_config_tx: %w", err)
	}
	return &SubmitResult{Signature: sig, EscrowPDA: configPDA}, nil
}

// GetFeeBalance reads the configured fee collector's token balance for mint,
// from the collector's associated token account for that mint.
func (c *SolanaClient) GetFeeBalance(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	cfg, err := c.GetConfigState(ctx)
	if err != nil {
		return 0, err
	}
	feeCollector := solana.PublicKeyFromBytes(cfg.FeeCollector[:])
	collectorATA, _, err := DeriveVaultATA(feeCollector, mint)
	if err != nil {
		return 0, fmt.Errorf("escrow: derive fee collector token account: %w", err)
	}
	balance, err := c.rpcClient.GetTokenAccountBalance(ctx, collectorATA, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("escrow: get fee collector token balance: %w", err)
	}
	if balance == nil || balance.Value == nil {
		return 0, fmt.Errorf("escrow: fee collector %s has no token account for mint %s", feeCollector, mint)
	}
	return parseTokenAmount(balance.Value.Amount)
}

func parseTokenAmount(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// WithdrawFees submits withdraw_fees_tx, moving accumulated fees out of a
// trade's vault to the fee collector's token account.
func (c *SolanaClient) WithdrawFees(ctx context.Context, req WithdrawFeesRequest) (*SubmitResult, error) {
	configPDA, _, err := DeriveConfigPDA(c.programID)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive config pda: %w", err)
	}
	ix, err := withdrawFeesInstruction(c.programID, req.Authority.PublicKey(), configPDA, req.FeeCollectorTokenAccount, req.VaultATA, req.Mint, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("escrow: build withdraw_fees instruction: %w", err)
	}
	sig, err := c.buildSignSubmit(ctx, req.Authority, []solana.Instruction{ix})
	if err != nil {
		return nil, fmt.Errorf("escrow: submit withdraw_fees_tx: %w", err)
	}
	return &SubmitResult{Signature: sig, EscrowPDA: configPDA}, nil
}
