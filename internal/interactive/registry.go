// Package interactive runs long-lived programs on the gateway host and
// streams their output to WebSocket subscribers, accepting stdin in return.
// Processes are not containerised; the command allow-list and the lifetime
// cap are the only guards.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/metrics"
	"github.com/Harsh-BH/warden/internal/workspace"
)

// Kind selects how a process is launched.
type Kind string

const (
	KindPython  Kind = "python"
	KindNode    Kind = "node"
	KindCommand Kind = "command"
)

var (
	// ErrClosed is returned by Spawn after Close.
	ErrClosed = errors.New("interactive registry closed")

	// ErrInvalidKind is returned for an unknown Kind.
	ErrInvalidKind = errors.New("invalid execution kind")

	// ErrMissingSource is returned when a python or node spawn has no code.
	ErrMissingSource = errors.New("source code is required")
)

// Config controls process lifetime and buffering.
type Config struct {
	// Grace is how long an exited process stays attachable once someone has
	// attached; UnattachedGrace applies when nobody ever did.
	Grace           time.Duration
	UnattachedGrace time.Duration
	MaxLifetime     time.Duration

	MaxBufferedEvents int
	AllowedCommands   []string
	PythonBin         string
	NodeBin           string
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Grace:             30 * time.Second,
		UnattachedGrace:   5 * time.Minute,
		MaxLifetime:       10 * time.Minute,
		MaxBufferedEvents: 1024,
		AllowedCommands:   []string{"npm", "pip", "pip3"},
		PythonBin:         "python3",
		NodeBin:           "node",
	}
}

// SpawnRequest describes one interactive execution.
type SpawnRequest struct {
	Room string
	Kind Kind

	// Command is used by KindCommand.
	Command string

	// FileName and Source are used by KindPython and KindNode.
	FileName string
	Source   string
}

// Info is a point-in-time view of a registered process.
type Info struct {
	ID          string
	Room        string
	Dir         string
	Exited      bool
	ExitCode    *int
	Attached    bool
	Buffered    int
	Dropped     int
	Subscribers int
}

// Registry owns every interactive process on this gateway.
type Registry struct {
	cfg        Config
	workspaces *workspace.Manager
	logger     *zap.Logger
	allowed    map[string]bool

	mu     sync.Mutex
	procs  map[string]*process
	closed bool
}

// NewRegistry creates a Registry whose processes run in scratch directories
// under workspaces' root.
func NewRegistry(cfg Config, workspaces *workspace.Manager, logger *zap.Logger) *Registry {
	if cfg.MaxBufferedEvents <= 0 {
		cfg.MaxBufferedEvents = DefaultConfig().MaxBufferedEvents
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = DefaultConfig().PythonBin
	}
	if cfg.NodeBin == "" {
		cfg.NodeBin = DefaultConfig().NodeBin
	}
	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		allowed[c] = true
	}
	return &Registry{
		cfg:        cfg,
		workspaces: workspaces,
		logger:     logger,
		allowed:    allowed,
		procs:      make(map[string]*process),
	}
}

// Spawn starts a process and returns its execution id. Output produced
// before anyone attaches is buffered.
func (r *Registry) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	argv, fileName, err := r.resolve(req)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	room := req.Room
	if room == "" {
		room = "default"
	}
	dir, err := r.workspaces.Create(room, id)
	if err != nil {
		return "", fmt.Errorf("interactive: %w", err)
	}

	if fileName != "" {
		path, err := dir.WriteFile(fileName, []byte(req.Source))
		if err != nil {
			dir.Remove()
			return "", fmt.Errorf("interactive: %w", err)
		}
		argv = append(argv, path)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir.Path
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pipes, err := openStdio()
	if err != nil {
		dir.Remove()
		return "", fmt.Errorf("interactive: %w", err)
	}
	cmd.Stdin = pipes.childIn
	cmd.Stdout = pipes.childOut
	cmd.Stderr = pipes.childErr

	startErr := cmd.Start()
	// The child holds its own copies now; on failure nobody does.
	pipes.closeChild()
	if startErr != nil {
		pipes.closeParent()
		dir.Remove()
		return "", fmt.Errorf("interactive: start %s: %w", argv[0], startErr)
	}

	p := &process{
		id:        id,
		room:      room,
		cmd:       cmd,
		dir:       dir,
		stdin:     pipes.stdin,
		maxBuffer: r.cfg.MaxBufferedEvents,
		subs:      make(map[*Subscription]struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		p.kill()
		cmd.Wait()
		pipes.closeParent()
		dir.Remove()
		return "", ErrClosed
	}
	r.procs[id] = p
	r.mu.Unlock()
	metrics.InteractiveProcesses.Inc()

	if r.cfg.MaxLifetime > 0 {
		p.mu.Lock()
		p.lifetime = time.AfterFunc(r.cfg.MaxLifetime, func() {
			r.logger.Info("Interactive process reached max lifetime, killing",
				zap.String("execution_id", id),
				zap.Duration("max_lifetime", r.cfg.MaxLifetime),
			)
			p.kill()
		})
		p.mu.Unlock()
	}

	go r.supervise(p, pipes.stdout, pipes.stderr)

	r.logger.Info("Interactive process started",
		zap.String("execution_id", id),
		zap.String("room", room),
		zap.String("kind", string(req.Kind)),
		zap.Int("pid", cmd.Process.Pid),
	)
	return id, nil
}

// resolve validates req and returns the launch argv and, for source kinds,
// the file the source is written to (appended to argv by the caller).
func (r *Registry) resolve(req SpawnRequest) (argv []string, fileName string, err error) {
	switch req.Kind {
	case KindPython, KindNode:
		if strings.TrimSpace(req.Source) == "" {
			return nil, "", ErrMissingSource
		}
		bin, def := r.cfg.PythonBin, "main.py"
		if req.Kind == KindNode {
			bin, def = r.cfg.NodeBin, "main.js"
		}
		fileName = filepath.Base(req.FileName)
		if fileName == "." || fileName == "/" || fileName == "" {
			fileName = def
		}
		return []string{bin}, fileName, nil

	case KindCommand:
		fields := strings.Fields(req.Command)
		if len(fields) == 0 {
			return nil, "", fmt.Errorf("%w: empty command", domain.ErrCommandNotAllowed)
		}
		if !r.allowed[fields[0]] {
			return nil, "", fmt.Errorf("%w: %q", domain.ErrCommandNotAllowed, fields[0])
		}
		return fields, "", nil

	default:
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
}

// supervise pumps both pipes, waits for exit, then emits the exit event and
// arms cleanup. The exit event always follows all output.
func (r *Registry) supervise(p *process, stdout, stderr io.ReadCloser) {
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(&wg, p, stdout, EventStdout)
	go pump(&wg, p, stderr, EventStderr)
	wg.Wait()
	stdout.Close()
	stderr.Close()

	waitErr := p.cmd.Wait()

	var code *int
	if state := p.cmd.ProcessState; state != nil && state.ExitCode() >= 0 {
		c := state.ExitCode()
		code = &c
	}
	exit := Event{Type: EventExit, Code: code}

	// exited and the exit fan-out change under one lock so a concurrent
	// Attach sees the exit event exactly once.
	p.mu.Lock()
	p.exited = true
	p.exitEvent = exit
	if p.lifetime != nil {
		p.lifetime.Stop()
	}
	var subs []*Subscription
	if !p.evicted {
		if len(p.subs) == 0 {
			p.buffer = append(p.buffer, exit)
		}
		for s := range p.subs {
			subs = append(subs, s)
		}
	}
	grace := r.cfg.UnattachedGrace
	if p.attached {
		grace = r.cfg.Grace
	}
	p.armCleanup(grace, func() { r.evict(p.id, "grace expired") })
	p.mu.Unlock()

	for _, s := range subs {
		s.send(exit)
	}

	fields := []zap.Field{
		zap.String("execution_id", p.id),
		zap.Duration("cleanup_in", grace),
	}
	if code != nil {
		fields = append(fields, zap.Int("exit_code", *code))
	}
	if waitErr != nil {
		fields = append(fields, zap.NamedError("wait_error", waitErr))
	}
	r.logger.Info("Interactive process exited", fields...)
}

func pump(wg *sync.WaitGroup, p *process, rd io.Reader, typ string) {
	defer wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			p.emit(Event{Type: typ, Data: string(buf[:n])})
		}
		if err != nil {
			return
		}
	}
}

// Attach subscribes to id's events. Buffered events are replayed first. If
// the process already exited, cleanup is re-armed with the attached grace.
func (r *Registry) Attach(id string) (*Subscription, error) {
	p, err := r.get(id)
	if err != nil {
		return nil, err
	}

	sub := p.subscribe()

	p.mu.Lock()
	if p.exited {
		p.armCleanup(r.cfg.Grace, func() { r.evict(p.id, "grace expired") })
	}
	p.mu.Unlock()

	r.logger.Debug("Subscriber attached", zap.String("execution_id", id))
	return sub, nil
}

// WriteInput writes text plus a newline to the process's stdin.
func (r *Registry) WriteInput(id, text string) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	if err := p.write(text); err != nil {
		if errors.Is(err, errExited) {
			return domain.ErrProcessExited
		}
		return fmt.Errorf("interactive: write stdin: %w", err)
	}
	return nil
}

// Kill terminates the process group. The exit event and cleanup follow as
// for a normal exit.
func (r *Registry) Kill(id string) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	r.logger.Info("Interactive process killed on request", zap.String("execution_id", id))
	p.kill()
	return nil
}

// Info reports the state of a registered process.
func (r *Registry) Info(id string) (Info, error) {
	p, err := r.get(id)
	if err != nil {
		return Info{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		ID:          p.id,
		Room:        p.room,
		Dir:         p.dir.Path,
		Exited:      p.exited,
		Attached:    p.attached,
		Buffered:    len(p.buffer),
		Dropped:     p.dropped,
		Subscribers: len(p.subs),
	}
	if p.exited {
		info.ExitCode = p.exitEvent.Code
	}
	return info, nil
}

// Close kills every process and evicts every entry. Further Spawns fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.evict(id, "registry closed")
	}
}

func (r *Registry) get(id string) (*process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return p, nil
}

// evict kills any remnant of the process group, closes stdin and every
// subscriber, removes the scratch directory and forgets the entry.
func (r *Registry) evict(id, reason string) {
	r.mu.Lock()
	p, ok := r.procs[id]
	if ok {
		delete(r.procs, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	p.evicted = true
	if p.cleanup != nil {
		p.cleanup.Stop()
	}
	if p.lifetime != nil {
		p.lifetime.Stop()
	}
	subs := make([]*Subscription, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	p.subs = map[*Subscription]struct{}{}
	p.buffer = nil
	p.mu.Unlock()

	p.kill()

	p.stdinMu.Lock()
	p.stdin.Close()
	p.stdinMu.Unlock()

	for _, s := range subs {
		s.shut()
	}

	if err := p.dir.Remove(); err != nil {
		r.logger.Warn("Failed to remove interactive scratch directory",
			zap.String("execution_id", id),
			zap.String("path", p.dir.Path),
			zap.Error(err),
		)
	}

	metrics.InteractiveProcesses.Dec()
	metrics.InteractiveEvictions.Inc()
	r.logger.Info("Interactive process evicted",
		zap.String("execution_id", id),
		zap.String("reason", reason),
	)
}
