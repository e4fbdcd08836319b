package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/workspace"
)

const (
	// containerWorkDir is where the scratch directory is mounted.
	containerWorkDir = "/app"

	// removeTimeout bounds teardown, which runs on a fresh context.
	removeTimeout = 10 * time.Second
)

// ErrTimeout is returned when the program exceeds the wall-clock limit.
var ErrTimeout = errors.New("execution timed out")

// DockerAPI is the subset of the Docker Engine client the runner needs.
// *client.Client satisfies it.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Config holds the resource ceilings applied to every sandbox.
type Config struct {
	MemoryBytes    int64
	CPUQuota       int64
	CPUPeriod      int64
	PidsLimit      int64
	Timeout        time.Duration
	MaxOutputBytes int
	User           string
	Runtime        string
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MemoryBytes:    256 << 20,
		CPUQuota:       50000,
		CPUPeriod:      100000,
		PidsLimit:      100,
		Timeout:        15 * time.Second,
		MaxOutputBytes: 64 * 1024,
		User:           "65534:65534",
	}
}

// Runner executes untrusted programs in throwaway containers.
type Runner struct {
	docker     DockerAPI
	languages  *language.Registry
	workspaces *workspace.Manager
	cfg        Config
	logger     *zap.Logger
}

// NewRunner creates a Runner. Scratch directories are created under workspaces'
// root, which must be visible to the Docker daemon at the same path.
func NewRunner(docker DockerAPI, languages *language.Registry, workspaces *workspace.Manager, cfg Config, logger *zap.Logger) *Runner {
	return &Runner{
		docker:     docker,
		languages:  languages,
		workspaces: workspaces,
		cfg:        cfg,
		logger:     logger,
	}
}

// EnsureImages pulls every language image. Intended for worker startup.
func (r *Runner) EnsureImages(ctx context.Context) error {
	for _, ref := range r.languages.Images() {
		rc, err := r.docker.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("sandbox: pull %s: %w", ref, err)
		}
		_, _ = io.Copy(io.Discard, rc)
		rc.Close()
		r.logger.Info("Sandbox image ready", zap.String("image", ref))
	}
	return nil
}

// Execute runs the request's source in a fresh container and returns its
// classified output. The container and the scratch directory are removed on
// every return path.
func (r *Runner) Execute(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	spec, err := r.languages.Get(req.Language)
	if err != nil {
		return nil, err
	}

	fileName, err := spec.FileName(req.SourceCode)
	if err != nil {
		return nil, err
	}

	dir, err := r.workspaces.Create("job", req.JobID.String())
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	defer func() {
		if err := dir.Remove(); err != nil {
			r.logger.Error("Failed to remove scratch directory",
				zap.String("job_id", req.JobID.String()),
				zap.String("path", dir.Path),
				zap.Error(err),
			)
		}
	}()

	if _, err := dir.WriteFile(fileName, []byte(req.SourceCode)); err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if spec.Compiled {
		// The sandbox user must be able to write build output.
		if err := os.Chmod(dir.Path, 0o777); err != nil {
			return nil, fmt.Errorf("sandbox: chmod scratch dir: %w", err)
		}
	}

	containerID, err := r.create(ctx, spec, fileName, dir)
	if err != nil {
		return nil, err
	}
	defer r.remove(req, containerID)

	return r.run(ctx, req, containerID)
}

func (r *Runner) create(ctx context.Context, spec language.Spec, fileName string, dir *workspace.Dir) (string, error) {
	bind := dir.Path + ":" + containerWorkDir
	if !spec.Compiled {
		bind += ":ro"
	}
	pids := r.cfg.PidsLimit

	resp, err := r.docker.ContainerCreate(ctx,
		&container.Config{
			Image:           spec.Image,
			Cmd:             spec.Command(fileName),
			WorkingDir:      containerWorkDir,
			User:            r.cfg.User,
			AttachStdin:     true,
			OpenStdin:       true,
			StdinOnce:       true,
			Tty:             false,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			Binds:          []string{bind},
			NetworkMode:    "none",
			CapDrop:        strslice.StrSlice{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			ReadonlyRootfs: true,
			Tmpfs: map[string]string{
				"/tmp": "rw,nosuid,size=64m,mode=1777",
			},
			Runtime: r.cfg.Runtime,
			Resources: container.Resources{
				Memory:     r.cfg.MemoryBytes,
				MemorySwap: r.cfg.MemoryBytes,
				CPUQuota:   r.cfg.CPUQuota,
				CPUPeriod:  r.cfg.CPUPeriod,
				PidsLimit:  &pids,
			},
		},
		nil, nil, "warden-"+dir.ID,
	)
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	return resp.ID, nil
}

func (r *Runner) run(ctx context.Context, req *domain.ExecutionRequest, containerID string) (*domain.ExecutionResult, error) {
	// Attach before start so no stdin is lost.
	hijack, err := r.docker.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: attach: %w", err)
	}
	defer hijack.Close()

	startTime := time.Now()
	if err := r.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}

	go func() {
		if req.Stdin != "" {
			if _, err := io.WriteString(hijack.Conn, req.Stdin); err != nil {
				r.logger.Debug("Stdin write stopped early",
					zap.String("job_id", req.JobID.String()),
					zap.Error(err),
				)
			}
		}
		_ = hijack.CloseWrite()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	statusCh, errCh := r.docker.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("sandbox: wait: %s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		if waitCtx.Err() == nil {
			return nil, fmt.Errorf("sandbox: wait: %w", err)
		}
		return nil, r.stop(ctx, req, containerID)
	case <-waitCtx.Done():
		return nil, r.stop(ctx, req, containerID)
	}
	elapsed := time.Since(startTime)

	logs, truncated, err := r.collectLogs(ctx, containerID)
	if err != nil {
		return nil, err
	}

	stdout, stderr := classify(logs, truncated, exitCode)

	r.logger.Debug("Sandbox execution completed",
		zap.String("job_id", req.JobID.String()),
		zap.Duration("elapsed", elapsed),
		zap.Int("exit_code", exitCode),
		zap.Bool("truncated", truncated),
	)

	return &domain.ExecutionResult{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		TimeUsedMs: int(elapsed.Milliseconds()),
		OOMKilled:  isOOMKill(exitCode),
	}, nil
}

// stop kills a container that outlived its deadline. If the caller's own
// context ended first the caller's error is returned instead of ErrTimeout.
func (r *Runner) stop(ctx context.Context, req *domain.ExecutionRequest, containerID string) error {
	killCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := r.docker.ContainerKill(killCtx, containerID, "SIGKILL"); err != nil {
		r.logger.Warn("Failed to kill sandbox container",
			zap.String("job_id", req.JobID.String()),
			zap.Error(err),
		)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	r.logger.Info("Sandbox execution timed out",
		zap.String("job_id", req.JobID.String()),
		zap.Duration("timeout", r.cfg.Timeout),
	)
	return fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
}

func (r *Runner) collectLogs(ctx context.Context, containerID string) (string, bool, error) {
	rc, err := r.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", false, fmt.Errorf("sandbox: read logs: %w", err)
	}
	defer rc.Close()

	// Both streams go into one buffer so the combined order is preserved.
	out := &limitedBuffer{limit: r.cfg.MaxOutputBytes}
	if _, err := stdcopy.StdCopy(out, out, rc); err != nil {
		return "", false, fmt.Errorf("sandbox: demux logs: %w", err)
	}
	return out.String(), out.truncated, nil
}

func (r *Runner) remove(req *domain.ExecutionRequest, containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	err := r.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		r.logger.Error("Failed to remove sandbox container",
			zap.String("job_id", req.JobID.String()),
			zap.String("container_id", containerID),
			zap.Error(err),
		)
	}
}
