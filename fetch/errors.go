// Package fetch performs the remote pixel calls: one executor per
// coordinator, speaking getPixels for asset references and computePixels
// for serialized expressions, with errors classified into the three kinds
// the splitter cares about.
package fetch

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. The splitter only ever branches on these three.
var (
	// ErrPayloadTooLarge marks a request the service refused for size;
	// recoverable by quad-splitting the grid.
	ErrPayloadTooLarge = errors.New("request exceeds service payload limit")

	// ErrTransient marks a failure worth retrying as-is.
	ErrTransient = errors.New("transient service failure")

	// ErrFatal marks a failure that neither retry nor splitting can fix.
	ErrFatal = errors.New("fatal service failure")
)

// ServiceError wraps a remote failure with its classification.
type ServiceError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pixel service: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("pixel service: %s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Kind }

// IsPayloadTooLarge reports whether err is a size rejection.
func IsPayloadTooLarge(err error) bool { return errors.Is(err, ErrPayloadTooLarge) }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// isSizeMessage sniffs the server's size-rejection text, which arrives as a
// generic bad-request error rather than a dedicated status.
func isSizeMessage(msg string) bool {
	return strings.Contains(msg, "Total request size") &&
		strings.Contains(msg, "must be less than or equal to")
}

// classifyStatus maps an HTTP failure to an error kind.
func classifyStatus(status int, message string) *ServiceError {
	kind := ErrFatal
	switch {
	case status == 413:
		kind = ErrPayloadTooLarge
	case status == 400 && isSizeMessage(message):
		kind = ErrPayloadTooLarge
	case status == 429 || status >= 500:
		kind = ErrTransient
	}
	return &ServiceError{Kind: kind, StatusCode: status, Message: message}
}
