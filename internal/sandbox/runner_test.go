package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/workspace"
)

// ──────────────────────────────────────────────────────
// Fake Docker engine: no daemon needed
// ──────────────────────────────────────────────────────

type fakeDocker struct {
	mu sync.Mutex

	createErr error
	startErr  error
	exitCode  int64
	hang      bool // ContainerWait never reports an exit
	stdout    string
	stderr    string

	config     *container.Config
	hostConfig *container.HostConfig
	name       string
	boundFiles []string
	started    bool
	killed     []string
	removed    []string
	pulled     []string

	stdin     string
	stdinDone chan struct{}
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{stdinDone: make(chan struct{})}
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.config = cfg
	f.hostConfig = host
	f.name = name

	// Record what the bind mount exposes at creation time.
	hostDir := strings.SplitN(host.Binds[0], ":", 2)[0]
	entries, _ := os.ReadDir(hostDir)
	for _, e := range entries {
		f.boundFiles = append(f.boundFiles, e.Name())
	}
	return container.CreateResponse{ID: "c-" + name}, nil
}

func (f *fakeDocker) ContainerAttach(_ context.Context, _ string, _ container.AttachOptions) (types.HijackedResponse, error) {
	client, server := net.Pipe()
	conn := &halfCloseConn{Conn: client}
	go func() {
		data, _ := io.ReadAll(server)
		f.mu.Lock()
		f.stdin = string(data)
		f.mu.Unlock()
		close(f.stdinDone)
	}()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(client)}, nil
}

// halfCloseConn lets the runner signal end of stdin over a net.Pipe.
type halfCloseConn struct {
	net.Conn
}

func (c *halfCloseConn) CloseWrite() error {
	return c.Conn.Close()
}

func (f *fakeDocker) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.startErr
}

func (f *fakeDocker) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.hang {
		return statusCh, errCh
	}
	// The program "exits" once it has consumed all of its stdin.
	go func() {
		select {
		case <-f.stdinDone:
			statusCh <- container.WaitResponse{StatusCode: f.exitCode}
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return statusCh, errCh
}

func (f *fakeDocker) ContainerKill(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeDocker) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.Force {
		f.removed = append(f.removed, id)
	}
	return nil
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"ok"}`)), nil
}

func newTestRunner(t *testing.T, docker *fakeDocker, timeout time.Duration) (*Runner, *workspace.Manager) {
	t.Helper()
	ws, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Timeout = timeout
	return NewRunner(docker, language.NewRegistry("warden-sandbox-"), ws, cfg, zap.NewNop()), ws
}

func assertWorkspaceEmpty(t *testing.T, ws *workspace.Manager) {
	t.Helper()
	entries, err := os.ReadDir(ws.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories leaked")
}

func request(lang domain.Language, code, stdin string) *domain.ExecutionRequest {
	return &domain.ExecutionRequest{
		JobID:      uuid.New(),
		Language:   lang,
		SourceCode: code,
		Stdin:      stdin,
	}
}

// ──────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────

func TestExecute_Success(t *testing.T) {
	docker := newFakeDocker()
	docker.stdout = "2\n"
	runner, ws := newTestRunner(t, docker, time.Second)

	result, err := runner.Execute(context.Background(), request(domain.LangPython, "print(1+1)", "ignored\n"))
	require.NoError(t, err)

	assert.Equal(t, "2\n", result.Stdout)
	assert.Equal(t, "", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)

	<-docker.stdinDone
	assert.Equal(t, "ignored\n", docker.stdin)
	assert.Equal(t, []string{"script.py"}, docker.boundFiles)
	assert.Len(t, docker.removed, 1)
	assert.Empty(t, docker.killed)
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_ContainerHardening(t *testing.T) {
	docker := newFakeDocker()
	runner, _ := newTestRunner(t, docker, time.Second)

	_, err := runner.Execute(context.Background(), request(domain.LangPython, "pass", ""))
	require.NoError(t, err)

	host := docker.hostConfig
	require.NotNil(t, host)
	assert.Equal(t, container.NetworkMode("none"), host.NetworkMode)
	assert.Equal(t, strslice.StrSlice{"ALL"}, host.CapDrop)
	assert.Contains(t, host.SecurityOpt, "no-new-privileges")
	assert.Equal(t, int64(256<<20), host.Memory)
	assert.Equal(t, host.Memory, host.MemorySwap)
	assert.Equal(t, int64(50000), host.CPUQuota)
	require.NotNil(t, host.PidsLimit)
	assert.Equal(t, int64(100), *host.PidsLimit)
	assert.True(t, strings.HasSuffix(host.Binds[0], ":/app:ro"), "interpreted languages mount read-only: %s", host.Binds[0])

	assert.True(t, docker.config.NetworkDisabled)
	assert.True(t, docker.config.StdinOnce)
	assert.Equal(t, "warden-sandbox-python", docker.config.Image)
	assert.True(t, strings.HasPrefix(docker.name, "warden-job-"))
}

func TestExecute_CompiledLanguageMountsReadWrite(t *testing.T) {
	docker := newFakeDocker()
	runner, _ := newTestRunner(t, docker, time.Second)

	_, err := runner.Execute(context.Background(), request(domain.LangCpp, "int main(){}", ""))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(docker.hostConfig.Binds[0], ":/app"))
	assert.Equal(t, []string{"main.cpp"}, docker.boundFiles)
}

func TestExecute_NonZeroExit(t *testing.T) {
	docker := newFakeDocker()
	docker.exitCode = 1
	docker.stderr = "Traceback (most recent call last):\nZeroDivisionError: division by zero\n"
	runner, ws := newTestRunner(t, docker, time.Second)

	result, err := runner.Execute(context.Background(), request(domain.LangPython, "1/0", ""))
	require.NoError(t, err)

	assert.Equal(t, 1, result.ExitCode)
	assert.Empty(t, result.Stdout)
	assert.Contains(t, result.Stderr, "ZeroDivisionError")
	assert.Len(t, docker.removed, 1)
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_Timeout(t *testing.T) {
	docker := newFakeDocker()
	docker.hang = true
	runner, ws := newTestRunner(t, docker, 50*time.Millisecond)

	start := time.Now()
	result, err := runner.Execute(context.Background(), request(domain.LangPython, "while True: pass", ""))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Len(t, docker.killed, 1)
	assert.Len(t, docker.removed, 1)
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_CallerCancelledIsNotTimeout(t *testing.T) {
	docker := newFakeDocker()
	docker.hang = true
	runner, ws := newTestRunner(t, docker, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := runner.Execute(ctx, request(domain.LangPython, "while True: pass", ""))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, docker.removed, 1)
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_UnsupportedLanguage(t *testing.T) {
	docker := newFakeDocker()
	runner, ws := newTestRunner(t, docker, time.Second)

	_, err := runner.Execute(context.Background(), request(domain.Language("ruby"), "puts 1", ""))
	assert.ErrorIs(t, err, language.ErrUnsupported)
	assert.Nil(t, docker.config, "no container should be created")
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_CreateFailureCleansWorkspace(t *testing.T) {
	docker := newFakeDocker()
	docker.createErr = errors.New("No such image: warden-sandbox-python")
	runner, ws := newTestRunner(t, docker, time.Second)

	_, err := runner.Execute(context.Background(), request(domain.LangPython, "print(1)", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such image")
	assert.Empty(t, docker.removed)
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_StartFailureRemovesContainer(t *testing.T) {
	docker := newFakeDocker()
	docker.startErr = errors.New("runtime unavailable")
	runner, ws := newTestRunner(t, docker, time.Second)

	_, err := runner.Execute(context.Background(), request(domain.LangNode, "console.log(1)", ""))
	require.Error(t, err)
	assert.Len(t, docker.removed, 1)
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_JavaWithoutPublicClass(t *testing.T) {
	docker := newFakeDocker()
	runner, ws := newTestRunner(t, docker, time.Second)

	_, err := runner.Execute(context.Background(), request(domain.LangJava, "class A {}", ""))
	assert.ErrorIs(t, err, language.ErrMissingPublicClass)
	assertWorkspaceEmpty(t, ws)
}

func TestExecute_ControlCharactersStripped(t *testing.T) {
	docker := newFakeDocker()
	docker.stdout = "ok\x00\x1b\n"
	runner, _ := newTestRunner(t, docker, time.Second)

	result, err := runner.Execute(context.Background(), request(domain.LangPython, "print('ok')", ""))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", result.Stdout)
}

func TestEnsureImages(t *testing.T) {
	docker := newFakeDocker()
	runner, _ := newTestRunner(t, docker, time.Second)

	require.NoError(t, runner.EnsureImages(context.Background()))
	assert.ElementsMatch(t, []string{
		"warden-sandbox-cpp",
		"warden-sandbox-java",
		"warden-sandbox-node",
		"warden-sandbox-python",
	}, docker.pulled)
}
