package lightning

import (
	"context"
	"errors"
	"strings"
)

// LND reports payment failures as error strings rather than a typed
// error set, so classification here is substring matching against the
// well-known failure reasons — the same approach the teacher takes for
// classifying RPC errors in src/chainadapter (string/status-code
// inspection) rather than typed sentinel errors.

func isChannelUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "channel") && (strings.Contains(msg, "unavailable") || strings.Contains(msg, "inactive"))
}

func isRouteNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no route") || strings.Contains(msg, "route_not_found") || strings.Contains(msg, "unable to find")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
