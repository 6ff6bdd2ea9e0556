package metrics

import (
	"context"

	"github.com/intercomswap/swapcore/internal/lightning"
)

// LightningClient wraps a lightning.Client, recording duration and
// outcome of Invoice/Pay calls. DecodeBolt11 is pure/local (no network
// round trip, no failure mode worth a health signal) so it passes through
// unrecorded.
type LightningClient struct {
	inner    lightning.Client
	recorder *Recorder
}

func WrapLightningClient(inner lightning.Client, recorder *Recorder) *LightningClient {
	return &LightningClient{inner: inner, recorder: recorder}
}

func (c *LightningClient) Invoice(ctx context.Context, amountMsat int64, label, description string, expirySec int64) (*lightning.Invoice, error) {
	var result *lightning.Invoice
	err := Timed(c.recorder, "lightning.invoice", func() error {
		var innerErr error
		result, innerErr = c.inner.Invoice(ctx, amountMsat, label, description, expirySec)
		return innerErr
	})
	return result, err
}

func (c *LightningClient) Pay(ctx context.Context, bolt11 string) (*lightning.PayResult, error) {
	var result *lightning.PayResult
	err := Timed(c.recorder, "lightning.pay", func() error {
		var innerErr error
		result, innerErr = c.inner.Pay(ctx, bolt11)
		return innerErr
	})
	return result, err
}

func (c *LightningClient) DecodeBolt11(bolt11 string) (*lightning.Decoded, error) {
	return c.inner.DecodeBolt11(bolt11)
}

var _ lightning.Client = (*LightningClient)(nil)
