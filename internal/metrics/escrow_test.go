package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/protocol"
)

type fakeEscrowClient struct {
	createErr error
	verifyErr *protocol.SwapError
}

func (f *fakeEscrowClient) CreateEscrowTx(ctx context.Context, req escrow.CreateEscrowRequest) (*escrow.SubmitResult, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &escrow.SubmitResult{}, nil
}

func (f *fakeEscrowClient) ClaimEscrowTx(ctx context.Context, req escrow.ClaimEscrowRequest) (*escrow.SubmitResult, error) {
	return &escrow.SubmitResult{}, nil
}

func (f *fakeEscrowClient) RefundEscrowTx(ctx context.Context, req escrow.RefundEscrowRequest) (*escrow.SubmitResult, error) {
	return &escrow.SubmitResult{}, nil
}

func (f *fakeEscrowClient) GetEscrowState(ctx context.Context, paymentHashHex string) (*escrow.EscrowAccount, error) {
	return &escrow.EscrowAccount{}, nil
}

func (f *fakeEscrowClient) VerifyEscrowOnChain(ctx context.Context, want escrow.ExpectedEscrow) (*escrow.EscrowAccount, *protocol.SwapError) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &escrow.EscrowAccount{}, nil
}

func TestWrapEscrowClientRecordsSuccess(t *testing.T) {
	r := NewRecorder()
	wrapped := WrapEscrowClient(&fakeEscrowClient{}, r)

	_, err := wrapped.CreateEscrowTx(context.Background(), escrow.CreateEscrowRequest{})
	require.NoError(t, err)

	status := r.HealthStatus("escrow.create")
	assert.False(t, status.LowSuccessRate)
}

func TestWrapEscrowClientRecordsVerifyFailureAsUnhealthy(t *testing.T) {
	r := NewRecorder()
	wrapped := WrapEscrowClient(&fakeEscrowClient{
		verifyErr: &protocol.SwapError{Code: "escrow_mismatch", Message: "mint mismatch"},
	}, r)

	_, swapErr := wrapped.VerifyEscrowOnChain(context.Background(), escrow.ExpectedEscrow{})
	require.NotNil(t, swapErr)

	status := r.HealthStatus("escrow.verify")
	assert.True(t, status.LowSuccessRate)
}
