package fetch

import (
	"context"
	"fmt"

	"cubefetch/pkg/geotiff"
	"cubefetch/request"
)

const (
	// DefaultMaxRequestBytes is the service's documented payload ceiling.
	DefaultMaxRequestBytes = 48 * 1024 * 1024

	// DefaultMaxRetries bounds immediate retries of transient failures.
	DefaultMaxRetries = 3

	bytesPerSample = 8
)

// Executor performs one manifest's remote call: mode dispatch, pre-flight
// size check, bounded retries, and decoding of the returned raster.
type Executor struct {
	svc             PixelService
	maxRetries      int
	maxRequestBytes int64
}

// NewExecutor creates an executor over svc. Non-positive maxRetries or
// maxRequestBytes select the defaults; maxRequestBytes < 0 disables the
// pre-flight check entirely.
func NewExecutor(svc PixelService, maxRetries int, maxRequestBytes int64) *Executor {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if maxRequestBytes == 0 {
		maxRequestBytes = DefaultMaxRequestBytes
	}
	return &Executor{
		svc:             svc,
		maxRetries:      maxRetries,
		maxRequestBytes: maxRequestBytes,
	}
}

// EstimateBytes returns the uncompressed payload size of a manifest's grid.
func EstimateBytes(m request.PixelManifest) int64 {
	return int64(m.Grid.Dimensions.Width) *
		int64(m.Grid.Dimensions.Height) *
		int64(len(m.BandIDs)) * bytesPerSample
}

// Fetch retrieves the pixel block described by the manifest. Size
// rejections come back wrapped in ErrPayloadTooLarge, locally when the
// estimate already exceeds the limit and remotely otherwise.
func (e *Executor) Fetch(ctx context.Context, m request.PixelManifest) (*geotiff.Block, error) {
	if e.maxRequestBytes > 0 {
		if est := EstimateBytes(m); est > e.maxRequestBytes {
			return nil, &ServiceError{
				Kind:    ErrPayloadTooLarge,
				Message: fmt.Sprintf("estimated %d bytes exceeds limit %d", est, e.maxRequestBytes),
			}
		}
	}

	payload, err := m.EncodeJSON()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	call := e.svc.GetPixels
	switch {
	case m.AssetID != "":
	case m.Expression != "":
		call = e.svc.ComputePixels
	default:
		return nil, fmt.Errorf("manifest has neither assetId nor expression")
	}

	var data []byte
	for attempt := 0; ; attempt++ {
		data, err = call(ctx, payload)
		if err == nil {
			break
		}
		if !IsTransient(err) || attempt >= e.maxRetries {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	block, err := geotiff.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode pixel block: %w", err)
	}

	wantW, wantH := m.Grid.Dimensions.Width, m.Grid.Dimensions.Height
	if block.Width != wantW || block.Height != wantH {
		return nil, fmt.Errorf("service returned %dx%d block, requested %dx%d",
			block.Width, block.Height, wantW, wantH)
	}
	if block.Bands != len(m.BandIDs) {
		return nil, fmt.Errorf("service returned %d bands, requested %d",
			block.Bands, len(m.BandIDs))
	}
	return block, nil
}
