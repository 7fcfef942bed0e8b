package worker

import (
	"context"

	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
)

// Handler is the per-JobType worker contract: load, mark running, build
// inventory, fan out, aggregate, set terminal status. Implementations never
// return an error for per-host failures — those are folded into the
// terminal ResultSummary — only for conditions that should surface as a
// dispatch failure (e.g. a malformed args payload).
type Handler interface {
	Handle(ctx context.Context, job *models.Job, args jobtype.Args) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, job *models.Job, args jobtype.Args) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
	return f(ctx, job, args)
}
