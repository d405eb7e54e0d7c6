package fetch

import "context"

// PixelService is the remote imagery service, reduced to the two calls
// this library makes. Implementations must classify failures with the
// package's error kinds (see ServiceError) so the splitter can react.
type PixelService interface {
	// GetPixels fetches pixels for a manifest referencing an asset id.
	GetPixels(ctx context.Context, manifest []byte) ([]byte, error)

	// ComputePixels fetches pixels for a manifest carrying a serialized
	// expression.
	ComputePixels(ctx context.Context, manifest []byte) ([]byte, error)
}
