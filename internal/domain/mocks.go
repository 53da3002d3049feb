package domain

import (
	"context"
	"sync"
)

type MockDetails struct {
	Details PipelineDetails
	Err     error
	Called  int
}

func (m *MockDetails) FetchDetails(ctx context.Context, ev PipelineEvent) (PipelineDetails, error) {
	m.Called++
	if m.Err != nil {
		return PipelineDetails{}, m.Err
	}
	return m.Details, nil
}

type MockChanges struct {
	Revisions []MaterialRevision
	Err       error
	Called    int
}

func (m *MockChanges) FetchChanges(ctx context.Context, ev PipelineEvent) ([]MaterialRevision, error) {
	m.Called++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Revisions, nil
}

type SentMessage struct {
	Target  Target
	Message Message
}

type MockTransport struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

func (t *MockTransport) Send(ctx context.Context, target Target, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.Sent = append(t.Sent, SentMessage{Target: target, Message: msg})
	return nil
}

// FixedRandom always picks the same index, clamped to the pool.
type FixedRandom struct {
	Index int
}

func (r FixedRandom) IntN(n int) int {
	if r.Index >= n {
		return n - 1
	}
	return r.Index
}
