package exchange

import "github.com/pkg/errors"

var (
	ErrInvalidPairFormat    = errors.New("invalid pair format")
	ErrCatalogUnavailable   = errors.New("pair catalog unavailable")
	ErrDecodeFailure        = errors.New("unrecognized message")
	ErrSubscriptionRejected = errors.New("subscription rejected")
	ErrConnectionLost       = errors.New("connection lost")
)
