package interactive

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Harsh-BH/warden/internal/metrics"
	"github.com/Harsh-BH/warden/internal/workspace"
)

// Event types.
const (
	EventStdout = "stdout"
	EventStderr = "stderr"
	EventExit   = "exit"
)

// readChunkSize is the largest single stdout/stderr event.
const readChunkSize = 4096

// subscriberHeadroom is the live-event capacity added on top of the replayed
// buffer when a subscription is created.
const subscriberHeadroom = 64

// Event is one item in a process's output stream. Code is set only on exit
// and is nil when the process was killed by a signal.
type Event struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Code *int   `json:"code,omitempty"`
}

// Subscription is a live view of one process's events. The channel is
// closed when the process is evicted or the subscription is closed.
type Subscription struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	closed bool

	proc *process
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.proc.detach(s)
	s.shut()
}

func (s *Subscription) send(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	case <-s.done:
	}
}

// shut unblocks any pending send, then closes the channel.
func (s *Subscription) shut() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type process struct {
	id   string
	room string
	cmd  *exec.Cmd
	dir  *workspace.Dir

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	mu        sync.Mutex
	buffer    []Event
	maxBuffer int
	dropped   int
	subs      map[*Subscription]struct{}
	attached  bool
	exited    bool
	exitEvent Event
	cleanup   *time.Timer
	lifetime  *time.Timer
	evicted   bool
}

// emit buffers output while nobody is subscribed and fans it out otherwise.
// Output is dropped once the buffer is full. The exit event bypasses emit
// and is always kept.
func (p *process) emit(evt Event) {
	p.mu.Lock()
	if p.evicted {
		p.mu.Unlock()
		return
	}
	if len(p.subs) == 0 {
		if len(p.buffer) >= p.maxBuffer {
			p.dropped++
			p.mu.Unlock()
			metrics.InteractiveDroppedEvents.Inc()
			return
		}
		p.buffer = append(p.buffer, evt)
		p.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		s.send(evt)
	}
}

// subscribe creates a subscription, replaying buffered events first.
func (p *process) subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Subscription{
		ch:   make(chan Event, len(p.buffer)+subscriberHeadroom+1),
		done: make(chan struct{}),
		proc: p,
	}
	if p.evicted {
		s.closed = true
		close(s.ch)
		return s
	}

	replayedExit := false
	for _, evt := range p.buffer {
		s.ch <- evt
		if evt.Type == EventExit {
			replayedExit = true
		}
	}
	p.buffer = nil

	// A later subscriber still learns the process is gone.
	if p.exited && !replayedExit {
		s.ch <- p.exitEvent
	}

	p.subs[s] = struct{}{}
	p.attached = true
	return s
}

func (p *process) detach(s *Subscription) {
	p.mu.Lock()
	delete(p.subs, s)
	p.mu.Unlock()
}

func (p *process) write(text string) error {
	p.mu.Lock()
	exited := p.exited || p.evicted
	p.mu.Unlock()
	if exited {
		return errExited
	}

	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
			return errExited
		}
		return err
	}
	return nil
}

// kill sends SIGKILL to the whole process group.
func (p *process) kill() {
	if p.cmd.Process == nil {
		return
	}
	pgid := -p.cmd.Process.Pid

	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()

	// Once the leader is reaped its pid is only safe to signal while the group
	// still has members; the kernel keeps a live pgid from being reused.
	if exited {
		if err := syscall.Kill(pgid, 0); errors.Is(err, syscall.ESRCH) {
			return
		}
	}
	// ESRCH means the group emptied on its own.
	_ = syscall.Kill(pgid, syscall.SIGKILL)
}

// armCleanup (re)starts the eviction timer. Caller holds p.mu.
func (p *process) armCleanup(d time.Duration, evict func()) {
	if p.evicted {
		return
	}
	if p.cleanup != nil {
		p.cleanup.Stop()
	}
	p.cleanup = time.AfterFunc(d, evict)
}

var errExited = errors.New("exited")
