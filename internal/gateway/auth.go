package gateway

import (
	"crypto/subtle"
	"strings"

	"github.com/reclaw/reclaw/internal/config"
	"github.com/reclaw/reclaw/internal/protocol"
)

type authFailureReason int

const (
	authMissingCredentials authFailureReason = iota
	authInvalidCredentials
)

// authorize checks connect credentials against the configured auth
// mode using constant-time comparison.
func authorize(mode, secret string, auth *protocol.AuthInfo) (authFailureReason, bool) {
	switch mode {
	case config.AuthModeToken:
		var provided string
		if auth != nil {
			provided = auth.Token
		}
		return verifySecret(provided, secret)
	case config.AuthModePassword:
		var provided string
		if auth != nil {
			provided = auth.Password
		}
		return verifySecret(provided, secret)
	default:
		return 0, true
	}
}

func verifySecret(provided, expected string) (authFailureReason, bool) {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return authMissingCredentials, false
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1 {
		return 0, true
	}
	return authInvalidCredentials, false
}

func authFailureError(reason authFailureReason) *protocol.ErrorShape {
	switch reason {
	case authMissingCredentials:
		return protocol.NewError(protocol.ErrorUnavailable, "unauthorized: missing credentials")
	default:
		return protocol.NewError(protocol.ErrorUnavailable, "unauthorized: invalid credentials")
	}
}
