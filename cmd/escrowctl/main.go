// Command escrowctl is the operator-facing counterpart to cmd/maker and
// cmd/taker: it drives the escrow program's admin-only instructions
// (config-get/init/set, fees-balance/withdraw), reads any trade's
// on-chain escrow state, and can re-submit a stuck trade's claim or
// refund straight from its receipt record.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/intercomswap/swapcore/internal/engineconfig"
	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/identity"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/services/audit"
	"github.com/intercomswap/swapcore/internal/tradefsm"
	"github.com/intercomswap/swapcore/internal/utils"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "config-get":
		handleConfigGet(os.Args[2:])
	case "config-init":
		handleConfigInit(os.Args[2:])
	case "config-set":
		handleConfigSet(os.Args[2:])
	case "fees-balance":
		handleFeesBalance(os.Args[2:])
	case "fees-withdraw":
		handleFeesWithdraw(os.Args[2:])
	case "escrow-get":
		handleEscrowGet(os.Args[2:])
	case "recover":
		handleRecover(os.Args[2:])
	case "version":
		fmt.Printf("escrowctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("escrowctl - operator tool for the swapcore escrow program")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  escrowctl config-get      Read the program's fee config account")
	fmt.Println("  escrowctl config-init     Create the fee config account (run once per deployment)")
	fmt.Println("  escrowctl config-set      Update the fee collector and/or fee_bps")
	fmt.Println("  escrowctl fees-balance    Read the fee collector's token balance for a mint")
	fmt.Println("  escrowctl fees-withdraw   Withdraw accumulated fees from a trade's vault")
	fmt.Println("  escrowctl escrow-get      Read a trade's on-chain escrow account by payment hash")
	fmt.Println("  escrowctl recover         Re-submit a stuck trade's claim or refund from its receipt")
	fmt.Println("  escrowctl version         Show version information")
	fmt.Println("  escrowctl help            Show this help message")
	fmt.Println()
	fmt.Println("Every mutating subcommand appends an entry to -audit-log (default escrowctl_audit.log).")
}

// commonFlags are the flags every subcommand needs to reach the chain and
// unlock the operator's signing key.
type commonFlags struct {
	configPath string
	password   string
	programID  string
	rpcURL     string
	auditPath  string
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "escrowctl_config.json", "path to the engine config file (for identity + solana_rpc_url)")
	fs.StringVar(&c.password, "identity-password", os.Getenv("SWAPCORE_IDENTITY_PASSWORD"), "identity keystore password")
	fs.StringVar(&c.programID, "program-id", "", "escrow program id (overrides the config file if set)")
	fs.StringVar(&c.rpcURL, "rpc-url", "", "solana cluster RPC endpoint (overrides the config file if set)")
	fs.StringVar(&c.auditPath, "audit-log", "escrowctl_audit.log", "path to the operator-action audit log")
	return c
}

// logAction records one admin operation to the operator audit log, best
// effort: a failure to audit never blocks or fails the operation itself,
// it's only surfaced on stderr.
func (c *commonFlags) logAction(actor solana.PublicKey, operation string, err error) {
	logger, openErr := audit.NewLogger(c.auditPath)
	if openErr != nil {
		fmt.Fprintf(os.Stderr, "escrowctl: warning: could not open audit log: %v\n", openErr)
		return
	}
	id, idErr := utils.GenerateSecureUUID()
	if idErr != nil {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	entry := audit.LogEntry{
		ID:        id,
		Actor:     actor.String(),
		Timestamp: time.Now(),
		Operation: operation,
		Status:    "SUCCESS",
	}
	if err != nil {
		entry.Status = "FAILURE"
		entry.FailureReason = err.Error()
	}
	if logErr := logger.LogOperation(entry); logErr != nil {
		fmt.Fprintf(os.Stderr, "escrowctl: warning: could not write audit log: %v\n", logErr)
	}
}

// client loads the operator's identity and builds an escrow.SolanaClient
// against the configured (or flag-overridden) program and RPC endpoint.
func (c *commonFlags) client() (*escrow.SolanaClient, solana.PrivateKey, error) {
	cfg, err := engineconfig.Load(c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	sk, _, err := identity.LoadOrCreate(cfg.Identity, c.password, "")
	if err != nil {
		return nil, nil, fmt.Errorf("load identity: %w", err)
	}

	rpcURL := cfg.SolanaRPCURL
	if c.rpcURL != "" {
		rpcURL = c.rpcURL
	}

	programIDStr := c.programID
	if programIDStr == "" {
		switch {
		case cfg.Maker != nil:
			programIDStr = cfg.Maker.ProgramID
		case cfg.Taker != nil:
			programIDStr = cfg.Taker.ProgramID
		}
	}
	if programIDStr == "" {
		return nil, nil, fmt.Errorf("no escrow program id: pass -program-id or configure a maker/taker section")
	}
	programID, err := solana.PublicKeyFromBase58(programIDStr)
	if err != nil {
		return nil, nil, fmt.Errorf("parse program id: %w", err)
	}
	return escrow.NewSolanaClient(rpcURL, programID), sk, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "escrowctl: "+format+"\n", args...)
	os.Exit(1)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("marshal output: %v", err)
	}
	fmt.Println(string(data))
}

func handleConfigGet(args []string) {
	fs := flag.NewFlagSet("config-get", flag.ExitOnError)
	common := bindCommon(fs)
	fs.Parse(args)

	cli, _, err := common.client()
	if err != nil {
		fatalf("config-get: %v", err)
	}
	state, err := cli.GetConfigState(context.Background())
	if err != nil {
		fatalf("config-get: %v", err)
	}
	printJSON(map[string]interface{}{
		"authority":     solana.PublicKeyFromBytes(state.Authority[:]).String(),
		"fee_collector": solana.PublicKeyFromBytes(state.FeeCollector[:]).String(),
		"fee_bps":       state.FeeBps,
		"bump":          state.Bump,
	})
}

func handleConfigInit(args []string) {
	fs := flag.NewFlagSet("config-init", flag.ExitOnError)
	common := bindCommon(fs)
	feeCollector := fs.String("fee-collector", "", "fee collector public key")
	feeBps := fs.Int("fee-bps", 0, "fee in basis points")
	fs.Parse(args)

	if *feeCollector == "" {
		fatalf("config-init: -fee-collector is required")
	}
	cli, sk, err := common.client()
	if err != nil {
		fatalf("config-init: %v", err)
	}
	collector, err := solana.PublicKeyFromBase58(*feeCollector)
	if err != nil {
		fatalf("config-init: parse fee collector: %v", err)
	}

	result, err := cli.InitConfig(context.Background(), escrow.InitConfigRequest{
		Payer:        sk,
		FeeCollector: collector,
		FeeBps:       uint16(*feeBps),
	})
	common.logAction(sk.PublicKey(), "CONFIG_INIT", err)
	if err != nil {
		fatalf("config-init: %v", err)
	}
	printJSON(map[string]interface{}{"signature": result.Signature.String(), "config_pda": result.EscrowPDA.String()})
}

func handleConfigSet(args []string) {
	fs := flag.NewFlagSet("config-set", flag.ExitOnError)
	common := bindCommon(fs)
	feeCollector := fs.String("fee-collector", "", "new fee collector public key")
	feeBps := fs.Int("fee-bps", 0, "new fee in basis points")
	fs.Parse(args)

	if *feeCollector == "" {
		fatalf("config-set: -fee-collector is required")
	}
	cli, sk, err := common.client()
	if err != nil {
		fatalf("config-set: %v", err)
	}
	collector, err := solana.PublicKeyFromBase58(*feeCollector)
	if err != nil {
		fatalf("config-set: parse fee collector: %v", err)
	}

	result, err := cli.SetConfig(context.Background(), escrow.SetConfigRequest{
		Authority:       sk,
		NewFeeCollector: collector,
		NewFeeBps:       uint16(*feeBps),
	})
	common.logAction(sk.PublicKey(), "CONFIG_SET", err)
	if err != nil {
		fatalf("config-set: %v", err)
	}
	printJSON(map[string]interface{}{"signature": result.Signature.String(), "config_pda": result.EscrowPDA.String()})
}

func handleFeesBalance(args []string) {
	fs := flag.NewFlagSet("fees-balance", flag.ExitOnError)
	common := bindCommon(fs)
	mint := fs.String("mint", "", "token mint")
	fs.Parse(args)

	if *mint == "" {
		fatalf("fees-balance: -mint is required")
	}
	cli, _, err := common.client()
	if err != nil {
		fatalf("fees-balance: %v", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(*mint)
	if err != nil {
		fatalf("fees-balance: parse mint: %v", err)
	}

	balance, err := cli.GetFeeBalance(context.Background(), mintKey)
	if err != nil {
		fatalf("fees-balance: %v", err)
	}
	printJSON(map[string]interface{}{"mint": mintKey.String(), "balance": balance})
}

func handleFeesWithdraw(args []string) {
	fs := flag.NewFlagSet("fees-withdraw", flag.ExitOnError)
	common := bindCommon(fs)
	feeCollectorTokenAccount := fs.String("fee-collector-token-account", "", "fee collector's token account")
	vaultATA := fs.String("vault-ata", "", "trade vault token account to withdraw from")
	mint := fs.String("mint", "", "token mint")
	amount := fs.Uint64("amount", 0, "amount to withdraw, in base units")
	fs.Parse(args)

	if *feeCollectorTokenAccount == "" || *vaultATA == "" || *mint == "" || *amount == 0 {
		fatalf("fees-withdraw: -fee-collector-token-account, -vault-ata, -mint, and -amount are all required")
	}
	cli, sk, err := common.client()
	if err != nil {
		fatalf("fees-withdraw: %v", err)
	}
	fcta, err := solana.PublicKeyFromBase58(*feeCollectorTokenAccount)
	if err != nil {
		fatalf("fees-withdraw: parse fee collector token account: %v", err)
	}
	vata, err := solana.PublicKeyFromBase58(*vaultATA)
	if err != nil {
		fatalf("fees-withdraw: parse vault ata: %v", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(*mint)
	if err != nil {
		fatalf("fees-withdraw: parse mint: %v", err)
	}

	result, err := cli.WithdrawFees(context.Background(), escrow.WithdrawFeesRequest{
		Authority:                sk,
		FeeCollectorTokenAccount: fcta,
		VaultATA:                 vata,
		Mint:                     mintKey,
		Amount:                   *amount,
	})
	common.logAction(sk.PublicKey(), "FEES_WITHDRAW", err)
	if err != nil {
		fatalf("fees-withdraw: %v", err)
	}
	printJSON(map[string]interface{}{"signature": result.Signature.String()})
}

func handleEscrowGet(args []string) {
	fs := flag.NewFlagSet("escrow-get", flag.ExitOnError)
	common := bindCommon(fs)
	paymentHash := fs.String("payment-hash", "", "hex-encoded 32-byte payment hash")
	fs.Parse(args)

	if *paymentHash == "" {
		fatalf("escrow-get: -payment-hash is required")
	}
	cli, _, err := common.client()
	if err != nil {
		fatalf("escrow-get: %v", err)
	}

	account, err := cli.GetEscrowState(context.Background(), *paymentHash)
	if err != nil {
		fatalf("escrow-get: %v", err)
	}
	printJSON(map[string]interface{}{
		"status":            account.Status,
		"payment_hash":      hex.EncodeToString(account.PaymentHash[:]),
		"recipient":         solana.PublicKeyFromBytes(account.Recipient[:]).String(),
		"refund":            solana.PublicKeyFromBytes(account.Refund[:]).String(),
		"refund_after_unix": account.RefundAfter,
		"mint":              solana.PublicKeyFromBytes(account.Mint[:]).String(),
		"net_amount":        account.NetAmount,
		"fee_amount":        account.FeeAmount,
		"fee_bps":           account.FeeBps,
		"fee_collector":     solana.PublicKeyFromBytes(account.FeeCollector[:]).String(),
		"vault":             solana.PublicKeyFromBytes(account.Vault[:]).String(),
	})
}

// handleRecover re-derives whichever of claim_escrow_tx or refund_escrow_tx
// a stuck trade still needs, straight from its receipt record, for when a
// maker or taker process never came back up to finish the job itself: a
// stored ln_paid preimage means claim, an elapsed refund_after_unix with no
// preimage means refund.
func handleRecover(args []string) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	common := bindCommon(fs)
	receiptsPath := fs.String("receipts", "", "path to the receipts NDJSON file")
	tradeID := fs.String("trade-id", "", "trade id to recover")
	tokenAccount := fs.String("token-account", "", "the operator's token account to receive the claimed or refunded funds")
	fs.Parse(args)

	if *receiptsPath == "" || *tradeID == "" || *tokenAccount == "" {
		fatalf("recover: -receipts, -trade-id, and -token-account are all required")
	}

	store, err := receipts.NewFileStore(*receiptsPath)
	if err != nil {
		fatalf("recover: open receipts store: %v", err)
	}
	defer store.Close()

	ts, events, err := store.Get(*tradeID)
	if err != nil {
		fatalf("recover: %v", err)
	}
	if ts.Escrow == nil {
		fatalf("recover: trade %s has no recorded escrow; nothing to recover", *tradeID)
	}
	if ts.State == tradefsm.StateClaimed || ts.State == tradefsm.StateRefunded {
		fatalf("recover: trade %s is already %s", *tradeID, ts.State)
	}

	cli, sk, err := common.client()
	if err != nil {
		fatalf("recover: %v", err)
	}
	mint, err := solana.PublicKeyFromBase58(ts.Escrow.Mint)
	if err != nil {
		fatalf("recover: parse mint: %v", err)
	}
	paymentHash, err := escrow.PaymentHashFromHex(ts.Escrow.PaymentHashHex)
	if err != nil {
		fatalf("recover: parse payment hash: %v", err)
	}
	tokenAccountKey, err := solana.PublicKeyFromBase58(*tokenAccount)
	if err != nil {
		fatalf("recover: parse token account: %v", err)
	}

	if preimageHex := findPreimage(events); preimageHex != "" {
		preimage, err := escrow.PaymentHashFromHex(preimageHex)
		if err != nil {
			fatalf("recover: decode stored preimage: %v", err)
		}
		platformFeeCollector, tradeFeeCollector, err := feeCollectorsFor(ts)
		if err != nil {
			fatalf("recover: %v", err)
		}

		result, err := cli.ClaimEscrowTx(context.Background(), escrow.ClaimEscrowRequest{
			RecipientSigner:       sk,
			RecipientTokenAccount: tokenAccountKey,
			Mint:                  mint,
			PaymentHash:           paymentHash,
			Preimage:              preimage,
			PlatformFeeCollector:  platformFeeCollector,
			TradeFeeCollector:     tradeFeeCollector,
		})
		common.logAction(sk.PublicKey(), "RECOVER_CLAIM", err)
		if err != nil {
			fatalf("recover: claim: %v", err)
		}
		printJSON(map[string]interface{}{"action": "claim", "signature": result.Signature.String()})
		return
	}

	now := time.Now().Unix()
	if now < ts.Escrow.RefundAfterUnix {
		fatalf("recover: trade %s has no recorded preimage and refund_after_unix (%d) has not elapsed yet (now %d)",
			*tradeID, ts.Escrow.RefundAfterUnix, now)
	}

	result, err := cli.RefundEscrowTx(context.Background(), escrow.RefundEscrowRequest{
		RefundSigner:       sk,
		RefundTokenAccount: tokenAccountKey,
		Mint:                mint,
		PaymentHash:        paymentHash,
	})
	common.logAction(sk.PublicKey(), "RECOVER_REFUND", err)
	if err != nil {
		fatalf("recover: refund: %v", err)
	}
	printJSON(map[string]interface{}{"action": "refund", "signature": result.Signature.String()})
}

// findPreimage scans a trade's event log, most recent first, for the
// preimage recorded when the taker's Lightning payment resolved.
func findPreimage(events []receipts.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind != "ln_paid" {
			continue
		}
		if p, ok := events[i].Payload["preimage"].(string); ok && p != "" {
			return p
		}
	}
	return ""
}

func feeCollectorsFor(ts *tradefsm.TradeState) (platform, trade solana.PublicKey, err error) {
	if ts.Terms == nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("trade %s has no recorded terms", ts.TradeID)
	}
	platform, err = solana.PublicKeyFromBase58(ts.Terms.PlatformFeeCollector)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("parse platform fee collector: %w", err)
	}
	trade, err = solana.PublicKeyFromBase58(ts.Terms.TradeFeeCollector)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("parse trade fee collector: %w", err)
	}
	return platform, trade, nil
}
