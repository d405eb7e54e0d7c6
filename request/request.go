// Package request models download units: an image reference, the bands to
// fetch, and the pixel grid to fetch them on. A validated RequestSet
// flattens into the manifest rows the coordinator executes.
package request

import (
	"fmt"

	"cubefetch/geo"
)

// ValidationError reports an invalid Request at construction time.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Msg
}

func validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// DuplicateIDError reports two requests sharing an id within one set.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate request id %q", e.ID)
}

// ImageRef names the pixels to fetch: either a plain asset id or a
// serialized computation expression, never both.
type ImageRef struct {
	assetID    string
	expression string
}

// Asset references an image by its catalog asset id.
func Asset(id string) ImageRef {
	return ImageRef{assetID: id}
}

// Expression references the computed output of a serialized expression.
func Expression(serialized string) ImageRef {
	return ImageRef{expression: serialized}
}

// IsAsset reports whether the reference is a plain asset id.
func (r ImageRef) IsAsset() bool { return r.assetID != "" }

// Ref returns the underlying asset id or expression blob.
func (r ImageRef) Ref() string {
	if r.assetID != "" {
		return r.assetID
	}
	return r.expression
}

func (r ImageRef) validate() error {
	if r.assetID == "" && r.expression == "" {
		return validationf("image reference is empty: need an asset id or an expression")
	}
	if r.assetID != "" && r.expression != "" {
		return validationf("image reference has both an asset id and an expression")
	}
	return nil
}

// Request is one download unit. Immutable once constructed; it maps to
// exactly one output file regardless of how often it is split internally.
type Request struct {
	id      string
	image   ImageRef
	bands   []string
	gt      geo.Geotransform
	imgID   string
	imgDate string
}

// Option sets optional request metadata.
type Option func(*Request)

// WithImageID records the source image id in the manifest.
func WithImageID(id string) Option {
	return func(r *Request) { r.imgID = id }
}

// WithImageDate records the acquisition date in the manifest.
func WithImageDate(date string) Option {
	return func(r *Request) { r.imgDate = date }
}

// New validates and constructs a Request.
func New(id string, image ImageRef, bands []string, gt geo.Geotransform, opts ...Option) (Request, error) {
	if id == "" {
		return Request{}, validationf("id must not be empty")
	}
	if err := image.validate(); err != nil {
		return Request{}, err
	}
	if len(bands) == 0 {
		return Request{}, validationf("at least one band is required")
	}
	for i, b := range bands {
		if b == "" {
			return Request{}, validationf("band %d is empty", i)
		}
	}
	if err := gt.Validate(); err != nil {
		return Request{}, validationf("geotransform: %v", err)
	}

	r := Request{
		id:    id,
		image: image,
		bands: append([]string(nil), bands...),
		gt:    gt,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r, nil
}

// ID returns the request id.
func (r Request) ID() string { return r.id }

// Image returns the image reference.
func (r Request) Image() ImageRef { return r.image }

// Bands returns a copy of the ordered band list.
func (r Request) Bands() []string { return append([]string(nil), r.bands...) }

// Geotransform returns the request's pixel grid.
func (r Request) Geotransform() geo.Geotransform { return r.gt }
