package metrics

import (
	"context"

	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/protocol"
)

// EscrowClient wraps an escrow.Client, transparently recording the
// duration and outcome of every call. Grounded on the teacher's
// MetricsRPCClient (src/chainadapter/rpc/metrics_client.go), which wraps
// RPCClient the same way for JSON-RPC calls.
type EscrowClient struct {
	inner    escrow.Client
	recorder *Recorder
}

// WrapEscrowClient returns a Client that behaves exactly like inner but
// records every call against recorder under the "escrow.*" operation
// names.
func WrapEscrowClient(inner escrow.Client, recorder *Recorder) *EscrowClient {
	return &EscrowClient{inner: inner, recorder: recorder}
}

func (c *EscrowClient) CreateEscrowTx(ctx context.Context, req escrow.CreateEscrowRequest) (*escrow.SubmitResult, error) {
	var result *escrow.SubmitResult
	err := Timed(c.recorder, "escrow.create", func() error {
		var innerErr error
		result, innerErr = c.inner.CreateEscrowTx(ctx, req)
		return innerErr
	})
	return result, err
}

func (c *EscrowClient) ClaimEscrowTx(ctx context.Context, req escrow.ClaimEscrowRequest) (*escrow.SubmitResult, error) {
	var result *escrow.SubmitResult
	err := Timed(c.recorder, "escrow.claim", func() error {
		var innerErr error
		result, innerErr = c.inner.ClaimEscrowTx(ctx, req)
		return innerErr
	})
	return result, err
}

func (c *EscrowClient) RefundEscrowTx(ctx context.Context, req escrow.RefundEscrowRequest) (*escrow.SubmitResult, error) {
	var result *escrow.SubmitResult
	err := Timed(c.recorder, "escrow.refund", func() error {
		var innerErr error
		result, innerErr = c.inner.RefundEscrowTx(ctx, req)
		return innerErr
	})
	return result, err
}

func (c *EscrowClient) GetEscrowState(ctx context.Context, paymentHashHex string) (*escrow.EscrowAccount, error) {
	var result *escrow.EscrowAccount
	err := Timed(c.recorder, "escrow.get_state", func() error {
		var innerErr error
		result, innerErr = c.inner.GetEscrowState(ctx, paymentHashHex)
		return innerErr
	})
	return result, err
}

// VerifyEscrowOnChain records a call even though escrow.Client reports
// failure via a *protocol.SwapError return value rather than Go's error
// type — Timed is given a plain error so a verify mismatch still shows up
// as a "failure" sample.
func (c *EscrowClient) VerifyEscrowOnChain(ctx context.Context, want escrow.ExpectedEscrow) (*escrow.EscrowAccount, *protocol.SwapError) {
	var result *escrow.EscrowAccount
	var swapErr *protocol.SwapError
	_ = Timed(c.recorder, "escrow.verify", func() error {
		result, swapErr = c.inner.VerifyEscrowOnChain(ctx, want)
		if swapErr != nil {
			return swapErr
		}
		return nil
	})
	return result, swapErr
}

var _ escrow.Client = (*EscrowClient)(nil)
