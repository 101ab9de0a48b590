package ports

import (
	"context"

	"github.com/bft-labs/perfship/internal/domain"
)

// Sink performs the actual transport of a batch.
// Deliver must return nil only when the batch was accepted; any error makes
// the processor schedule a retry. Implementations must honour ctx.
type Sink interface {
	Deliver(ctx context.Context, batch domain.Batch) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, batch domain.Batch) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, batch domain.Batch) error {
	return f(ctx, batch)
}
