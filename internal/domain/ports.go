package domain

import "context"

type DetailsFetcher interface {
	FetchDetails(ctx context.Context, ev PipelineEvent) (PipelineDetails, error)
}

type ChangesFetcher interface {
	FetchChanges(ctx context.Context, ev PipelineEvent) ([]MaterialRevision, error)
}

type Transport interface {
	Send(ctx context.Context, target Target, msg Message) error
}

// RandomSource returns a value in [0, n). Implementations used by concurrent
// dispatches must be safe for concurrent use.
type RandomSource interface {
	IntN(n int) int
}
