package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

// MockPublisher is a test publisher that records every mutation event.
type MockPublisher struct {
	mu sync.Mutex

	// Events accumulates all events passed to PublishMutation.
	Events []eventstream.MutationEvent

	// FailPublish causes PublishMutation to return an error.
	FailPublish bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishMutation(_ context.Context, event *eventstream.MutationEvent) error {
	if event == nil {
		return eventstream.ErrNilMutationEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPublish {
		return fmt.Errorf("mock publish failure")
	}
	m.Events = append(m.Events, *event)
	return nil
}

// EventTypes returns the types of recorded events in publish order.
func (m *MockPublisher) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		types = append(types, e.EventType)
	}
	return types
}

func (m *MockPublisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*MockPublisher)(nil)
