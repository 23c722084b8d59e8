package probe

import (
	"context"

	"github.com/hamed0406/statusgrid/internal/domain"
)

// Checker probes one endpoint and classifies the outcome.
// Implementations never fail: every problem ends up in a failure Result.
type Checker interface {
	Check(ctx context.Context, ep domain.Endpoint) domain.Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, ep domain.Endpoint) domain.Result

func (f CheckerFunc) Check(ctx context.Context, ep domain.Endpoint) domain.Result {
	return f(ctx, ep)
}
