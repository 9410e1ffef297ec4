// Package container runs catalog steps as Docker containers.
//
// Each job gets a work directory on the host, bind-mounted at /work. The
// step's declared inputs are passed as JSON in MOIRA_INPUTS. The container
// writes outputs.json and any artifact files into /work/steps/<step>/;
// after a zero exit the outputs are decoded and every other regular file
// in that directory is emitted as an artifact. The container is removed
// whatever the outcome.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/hyunkyoun/moira/step"
)

// RuntimeName is the catalog runtime key for container steps.
const RuntimeName = "container"

const (
	mountPoint  = "/work"
	outputsFile = "outputs.json"
)

// Params are the catalog parameters of a container step.
type Params struct {
	Image   string            `yaml:"image"`
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	User    string            `yaml:"user"`
	// Pull fetches the image before every run instead of relying on the
	// local cache.
	Pull bool `yaml:"pull"`
}

// API is the subset of the Docker client the runtime uses.
type API interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

var _ API = (*client.Client)(nil)

// Runtime builds container units sharing one Docker client.
type Runtime struct {
	api      API
	workRoot string
	network  string
	logTail  int
	logger   *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithNetwork attaches step containers to a Docker network.
func WithNetwork(name string) Option {
	return func(r *Runtime) { r.network = name }
}

// WithLogTail sets how many log lines a failure message carries.
func WithLogTail(lines int) Option {
	return func(r *Runtime) {
		if lines > 0 {
			r.logTail = lines
		}
	}
}

// New creates a runtime that keeps per-job work directories under
// workRoot.
func New(api API, workRoot string, opts ...Option) *Runtime {
	r := &Runtime{
		api:      api,
		workRoot: workRoot,
		logTail:  40,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromEnv connects to the Docker daemon configured by the environment
// (DOCKER_HOST and friends).
func NewFromEnv(workRoot string, opts ...Option) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return New(cli, workRoot, opts...), nil
}

// Factory returns the step.Factory for the container runtime.
func (r *Runtime) Factory() step.Factory {
	return func(spec step.Spec) (step.Unit, error) {
		var p Params
		if err := spec.DecodeParams(&p); err != nil {
			return nil, err
		}
		if p.Image == "" {
			return nil, errors.New("container step needs an image")
		}
		return &Unit{runtime: r, params: p}, nil
	}
}

// Unit runs one catalog step in a container.
type Unit struct {
	runtime *Runtime
	params  Params
}

// Run executes the container and collects its outputs and artifacts.
func (u *Unit) Run(ctx context.Context, in step.Accessor) (step.Outputs, error) {
	r := u.runtime
	logger := in.Logger()

	jobDir, err := filepath.Abs(filepath.Join(r.workRoot, in.JobID().String()))
	if err != nil {
		return nil, err
	}
	stepDir := filepath.Join(jobDir, "steps", in.Step())
	if err := os.RemoveAll(stepDir); err != nil {
		return nil, fmt.Errorf("reset step dir: %w", err)
	}
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return nil, fmt.Errorf("create step dir: %w", err)
	}

	inputs, err := json.Marshal(in.Inputs())
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}

	if u.params.Pull {
		if err := r.pull(ctx, u.params.Image); err != nil {
			return nil, err
		}
	}

	cfg := &container.Config{
		Image:      u.params.Image,
		Cmd:        u.params.Command,
		Env:        u.env(in, inputs),
		User:       u.params.User,
		WorkingDir: mountPoint,
		Labels: map[string]string{
			"moira.job_id": in.JobID().String(),
			"moira.step":   in.Step(),
		},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{jobDir + ":" + mountPoint},
	}
	if r.network != "" {
		hostCfg.NetworkMode = container.NetworkMode(r.network)
	}

	created, err := r.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	containerID := created.ID
	defer r.remove(context.WithoutCancel(ctx), containerID, logger)

	logger.Debug("container created", slog.String("container_id", short(containerID)), slog.String("image", u.params.Image))

	if err := r.api.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	status, err := r.wait(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if status != 0 {
		tail := r.logs(context.WithoutCancel(ctx), containerID)
		return nil, &ExitError{Image: u.params.Image, Status: status, LogTail: tail}
	}

	return collect(ctx, stepDir, in)
}

func (u *Unit) env(in step.Accessor, inputs []byte) []string {
	env := []string{
		"MOIRA_JOB_ID=" + in.JobID().String(),
		"MOIRA_STEP=" + in.Step(),
		"MOIRA_WORK_DIR=" + mountPoint,
		"MOIRA_STEP_DIR=" + path.Join(mountPoint, "steps", in.Step()),
		"MOIRA_INPUTS=" + string(inputs),
	}
	keys := make([]string, 0, len(u.params.Env))
	for k := range u.params.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+u.params.Env[k])
	}
	return env
}

// ExitError reports a container that exited non-zero.
type ExitError struct {
	Image   string
	Status  int64
	LogTail string
}

func (e *ExitError) Error() string {
	if e.LogTail == "" {
		return fmt.Sprintf("container %s exited with status %d", e.Image, e.Status)
	}
	return fmt.Sprintf("container %s exited with status %d: %s", e.Image, e.Status, e.LogTail)
}

func (r *Runtime) pull(ctx context.Context, image string) error {
	rc, err := r.api.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}
	defer rc.Close()
	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}
	return nil
}

func (r *Runtime) wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("wait for container: %w", err)
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return 0, fmt.Errorf("wait for container: %s", st.Error.Message)
		}
		return st.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// logs returns the last lines of the container's combined output.
func (r *Runtime) logs(ctx context.Context, containerID string) string {
	rc, err := r.api.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprint(r.logTail),
	})
	if err != nil {
		return ""
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		r.logger.Debug("read container logs", slog.String("error", err.Error()))
	}
	return lastLines(buf.String(), r.logTail)
}

func (r *Runtime) remove(ctx context.Context, containerID string, logger *slog.Logger) {
	err := r.api.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		logger.Warn("failed to remove container",
			slog.String("container_id", short(containerID)),
			slog.String("error", err.Error()),
		)
	}
}

// collect decodes outputs.json and emits the remaining files as artifacts.
func collect(ctx context.Context, stepDir string, in step.Accessor) (step.Outputs, error) {
	out := step.Outputs{}
	data, err := os.ReadFile(filepath.Join(stepDir, outputsFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", outputsFile, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", outputsFile, err)
	}

	entries, err := os.ReadDir(stepDir)
	if err != nil {
		return nil, fmt.Errorf("list step dir: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == outputsFile || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(stepDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", e.Name(), err)
		}
		if _, err := in.Emit(ctx, e.Name(), blob); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
