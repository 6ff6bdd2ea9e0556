// Package lightning implements the C5 Lightning client: invoice creation,
// payment, and BOLT-11 decode, wrapping a real LND node over gRPC.
package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/intercomswap/swapcore/internal/protocol"
)

// Invoice is the result of Client.Invoice.
type Invoice struct {
	Bolt11      string
	PaymentHash string // 32-byte hex
}

// PayResult is the result of Client.Pay: preimage reveal is
// evidence of payment.
type PayResult struct {
	PaymentPreimage string // 32-byte hex
}

// Decoded is the result of Client.DecodeBolt11.
type Decoded struct {
	PaymentHash   string
	ExpiresAtUnix int64
	AmountMsat    int64
}

// Client is the C5 contract.
type Client interface {
	Invoice(ctx context.Context, amountMsat int64, label, description string, expirySec int64) (*Invoice, error)
	Pay(ctx context.Context, bolt11 string) (*PayResult, error)
	DecodeBolt11(bolt11 string) (*Decoded, error)
}

// LNDClient wraps lndclient.LightningClient against a running LND node.
// Grounded on the teacher's ChainError retry classification
// (src/chainadapter/error.go), generalized from chain-RPC errors to
// channel_unavailable/route_not_found/timeout Lightning errors.
type LNDClient struct {
	lightning lndclient.LightningClient
	chainParams string
}

// NewLNDClient dials a running LND node's gRPC endpoint via lndclient.
func NewLNDClient(ctx context.Context, cfg lndclient.LndServicesConfig) (*LNDClient, error) {
	services, err := lndclient.NewLndServices(&cfg)
	if err != nil {
		return nil, fmt.Errorf("lightning: dial lnd: %w", err)
	}
	return &LNDClient{lightning: services.Client, chainParams: cfg.Network.Params().Name}, nil
}

func (c *LNDClient) Invoice(ctx context.Context, amountMsat int64, label, description string, expirySec int64) (*Invoice, error) {
	hash, bolt11, err := c.lightning.AddInvoice(ctx, &invoicesrpc.AddInvoiceData{
		Memo:      description,
		Value:     lnrpc.Amount(amountMsat / 1000),
		ValueMsat: lnrpc.MilliSatoshi(amountMsat),
		Expiry:    expirySec,
	})
	if err != nil {
		return nil, protocol.NewSwapError(protocol.ErrLNInvoiceFailed, "create invoice", protocol.Retryable, err)
	}
	return &Invoice{
		Bolt11:      bolt11,
		PaymentHash: hex.EncodeToString(hash[:]),
	}, nil
}

func (c *LNDClient) Pay(ctx context.Context, bolt11 string) (*PayResult, error) {
	payCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result, err := c.lightning.PayInvoice(payCtx, bolt11, 0, nil)
	if err != nil {
		return nil, classifyPayError(err)
	}
	return &PayResult{PaymentPreimage: hex.EncodeToString(result.Preimage[:])}, nil
}

// classifyPayError maps LND payment failures onto the closed error
// set, mirroring the teacher's ChainError classification so the maker/taker
// engines can decide retry-within-swap-timeout without string matching.
func classifyPayError(err error) *protocol.SwapError {
	switch {
	case isChannelUnavailable(err):
		return protocol.NewSwapError(protocol.ErrLNPayFailed, "channel_unavailable", protocol.Retryable, err)
	case isRouteNotFound(err):
		return protocol.NewSwapError(protocol.ErrLNPayFailed, "route_not_found", protocol.Retryable, err)
	case isTimeout(err):
		return protocol.NewSwapError(protocol.ErrLNPayFailed, "timeout", protocol.Retryable, err)
	default:
		return protocol.NewSwapError(protocol.ErrLNPayFailed, "payment failed", protocol.Terminal, err)
	}
}

func (c *LNDClient) DecodeBolt11(bolt11 string) (*Decoded, error) {
	invoice, err := zpay32.Decode(bolt11)
	if err != nil {
		return nil, protocol.LocalDropf(protocol.ErrSchemaInvalid, "decode bolt11: %v", err)
	}
	if invoice.PaymentHash == nil {
		return nil, protocol.LocalDropf(protocol.ErrSchemaInvalid, "bolt11 missing payment hash")
	}
	var amountMsat int64
	if invoice.MilliSat != nil {
		amountMsat = int64(*invoice.MilliSat)
	}
	return &Decoded{
		PaymentHash:   hex.EncodeToString(invoice.PaymentHash[:]),
		ExpiresAtUnix: invoice.Timestamp.Add(invoice.Expiry()).Unix(),
		AmountMsat:    amountMsat,
	}, nil
}
