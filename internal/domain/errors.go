// Package domain holds the persisted record types and the error kinds
// shared by the store, the RPC handlers, and the cron engine.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Handlers wrap these with %w and the dispatcher
// maps them to wire codes in a single place.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrNotPaired      = errors.New("not paired")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUnavailable    = errors.New("unavailable")
	ErrStorage        = errors.New("storage")
)

func InvalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func NotPairedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotPaired, fmt.Sprintf(format, args...))
}

func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

func Storagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStorage, fmt.Sprintf(format, args...))
}

// Message strips the sentinel prefix so wire errors read like the
// handler wrote them. Unauthorized keeps its prefix: the wire contract
// is "unauthorized: missing credentials".
func Message(err error) string {
	if errors.Is(err, ErrUnauthorized) {
		return err.Error()
	}
	for _, kind := range []error{
		ErrInvalidRequest, ErrNotFound, ErrNotPaired,
		ErrUnavailable, ErrStorage,
	} {
		if errors.Is(err, kind) {
			prefix := kind.Error() + ": "
			msg := err.Error()
			if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
				return msg[len(prefix):]
			}
			return msg
		}
	}
	return err.Error()
}
