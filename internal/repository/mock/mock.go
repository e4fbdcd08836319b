package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/repository"
)

// ---- JobResultStore mock ----

var _ repository.JobResultStore = (*ResultStore)(nil)

// ResultStore is an in-memory repository.JobResultStore that also records
// calls. The Fn hooks, when set, replace the default behaviour.
type ResultStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.JobResult

	EnsurePendingFn func(ctx context.Context, jobID uuid.UUID, lang domain.Language) error
	CompleteFn      func(ctx context.Context, result *domain.JobResult) error
	GetFn           func(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error)
	PingErr         error

	// Recorded calls for assertions.
	PendingCalls []uuid.UUID
	Completed    []*domain.JobResult
	GetCalls     []uuid.UUID
}

// NewResultStore creates an empty in-memory store.
func NewResultStore() *ResultStore {
	return &ResultStore{records: make(map[uuid.UUID]*domain.JobResult)}
}

func (m *ResultStore) EnsurePending(ctx context.Context, jobID uuid.UUID, lang domain.Language) error {
	m.mu.Lock()
	m.PendingCalls = append(m.PendingCalls, jobID)
	m.mu.Unlock()
	if m.EnsurePendingFn != nil {
		return m.EnsurePendingFn(ctx, jobID, lang)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[jobID]; ok {
		return nil
	}
	now := time.Now().UTC()
	m.records[jobID] = &domain.JobResult{
		JobID:     jobID,
		Language:  lang,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (m *ResultStore) Complete(ctx context.Context, result *domain.JobResult) error {
	m.mu.Lock()
	cp := *result
	m.Completed = append(m.Completed, &cp)
	m.mu.Unlock()
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, result)
	}
	if !result.Status.IsTerminal() {
		return domain.ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	stored := *result
	stored.UpdatedAt = now
	if prev, ok := m.records[result.JobID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	m.records[result.JobID] = &stored
	return nil
}

func (m *ResultStore) Get(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, jobID)
	m.mu.Unlock()
	if m.GetFn != nil {
		return m.GetFn(ctx, jobID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.records[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *ResultStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Status returns the stored status, or "" if there is no record.
func (m *ResultStore) Status(jobID uuid.UUID) domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.records[jobID]; ok {
		return res.Status
	}
	return ""
}

// Len returns the number of stored records.
func (m *ResultStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// ---- DocumentResolver mock ----

var _ repository.DocumentResolver = (*Documents)(nil)

// Documents is a map-backed repository.DocumentResolver.
type Documents map[string]*domain.Document

func (d Documents) Resolve(ctx context.Context, id string) (*domain.Document, error) {
	doc, ok := d[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// ---- IdempotencyStore mock ----

var _ repository.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore is a test double for repository.IdempotencyStore that
// behaves like SETNX/DEL unless a hook is set.
type IdempotencyStore struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool

	AcquireLockFn func(ctx context.Context, jobID uuid.UUID) (bool, error)
	ReleaseLockFn func(ctx context.Context, jobID uuid.UUID) error

	AcquireCalls []uuid.UUID
	ReleaseCalls []uuid.UUID
}

func (m *IdempotencyStore) AcquireLock(ctx context.Context, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, jobID)
	m.mu.Unlock()
	if m.AcquireLockFn != nil {
		return m.AcquireLockFn(ctx, jobID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[uuid.UUID]bool)
	}
	if m.held[jobID] {
		return false, nil
	}
	m.held[jobID] = true
	return true, nil
}

func (m *IdempotencyStore) ReleaseLock(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, jobID)
	delete(m.held, jobID)
	m.mu.Unlock()
	if m.ReleaseLockFn != nil {
		return m.ReleaseLockFn(ctx, jobID)
	}
	return nil
}

// ---- ResultCache mock ----

var _ repository.ResultCache = (*ResultCache)(nil)

// ResultCache is an in-memory repository.ResultCache.
type ResultCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.JobResult

	GetErr  error
	PingErr error

	SetCalls []*domain.JobResult
}

func (m *ResultCache) Get(ctx context.Context, jobID uuid.UUID) (*domain.JobResult, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.entries[jobID]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (m *ResultCache) Set(ctx context.Context, result *domain.JobResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[uuid.UUID]*domain.JobResult)
	}
	cp := *result
	m.entries[result.JobID] = &cp
	m.SetCalls = append(m.SetCalls, &cp)
	return nil
}

func (m *ResultCache) Ping(ctx context.Context) error {
	return m.PingErr
}

// ---- Executor mock ----

var _ repository.Executor = (*Executor)(nil)

// Executor is a test double for repository.Executor.
type Executor struct {
	mu sync.Mutex

	ExecuteFn func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error)

	ExecuteCalls []*domain.ExecutionRequest
}

func (m *Executor) Execute(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, req)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, req)
	}
	return &domain.ExecutionResult{
		Stdout:     "Hello, World!\n",
		ExitCode:   0,
		TimeUsedMs: 42,
	}, nil
}
