// Package remote defines the boundary between the trial engine and the client of
// the remote service that delivers verification codes.
package remote

import (
	"context"
	"fmt"

	"sendcode_nexus/proxypool/model"
)

// Session is one established connection to the remote service through a proxy.
type Session interface {
	// IsAuthorized reports whether the session already belongs to a signed-in account.
	IsAuthorized(ctx context.Context) (bool, error)
	// SendCode asks the remote service to deliver a verification code to phone.
	SendCode(ctx context.Context, phone string) error
	// Close tears the session down. It is safe to call more than once.
	Close() error
}

// Connector opens sessions through a given proxy endpoint. Implementations must
// release everything they allocated when Connect fails.
type Connector interface {
	Connect(ctx context.Context, endpoint model.Endpoint) (Session, error)
}

// FloodWaitError is returned by SendCode when the remote service asks the caller
// to wait before retrying.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %ds", e.Seconds)
}
