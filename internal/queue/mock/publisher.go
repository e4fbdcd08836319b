package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/queue"
)

// Ensure MockPublisher implements queue.Publisher.
var _ queue.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock message publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published []*domain.Job
	PublishFn func(ctx context.Context, job *domain.Job) error
	Down      bool
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, job *domain.Job) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, job)
	return nil
}

func (m *MockPublisher) Healthy() bool {
	return !m.Down
}

func (m *MockPublisher) Close() error {
	return nil
}
