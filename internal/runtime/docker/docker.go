// Package docker implements the sandbox runtime on the local Docker engine.
//
// Each sandbox is a long-lived container parked on a sleep entrypoint;
// commands are executed via docker exec so the container survives between
// requests, which is what lets the chat relay re-attach by id.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime"
)

const (
	RuntimeName  = "docker"
	ManagedLabel = "cloud.claudecode.managed"
)

// defaultImages maps provider runtime tags to container images. The node
// images carry npm and curl, which the tool install commands need.
var defaultImages = map[string]string{
	"node22": "node:22-bookworm",
	"node20": "node:20-bookworm",
}

// Runtime implements runtime.Runtime using the Docker engine.
type Runtime struct {
	cli    *client.Client
	images map[string]string
}

// New creates a docker-backed runtime. cfg["image.<tag>"] entries override
// the default image mapping.
func New(cfg map[string]any) (runtime.Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	images := make(map[string]string, len(defaultImages))
	for tag, img := range defaultImages {
		images[tag] = img
	}
	for k, v := range cfg {
		if tag, ok := strings.CutPrefix(k, "image."); ok {
			if img, ok := v.(string); ok && img != "" {
				images[tag] = img
			}
		}
	}

	// Startup garbage collection of sandboxes left over from a previous run.
	go cleanupOrphans(cli)

	return &Runtime{cli: cli, images: images}, nil
}

func init() {
	runtime.Register(RuntimeName, New)
}

func (r *Runtime) Name() string { return RuntimeName }

func (r *Runtime) Healthy(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

func cleanupOrphans(cli *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list orphaned sandboxes")
		return
	}

	count := 0
	for _, c := range list {
		if err := cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn().Str("id", c.ID).Err(err).Msg("Failed to remove orphaned sandbox")
		} else {
			count++
		}
	}
	if count > 0 {
		log.Info().Int("count", count).Msg("Removed orphaned sandboxes")
	}
}

func (r *Runtime) Create(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	image, ok := r.images[spec.Runtime]
	if !ok {
		return nil, fmt.Errorf("%w: no image for runtime %q", runtime.ErrInvalidSpec, spec.Runtime)
	}

	// Ensure the image exists locally, otherwise pull it.
	_, _, err := r.cli.ImageInspectWithRaw(ctx, image)
	if client.IsErrNotFound(err) {
		log.Info().Str("image", image).Msg("Image not found locally, pulling...")
		reader, err := r.cli.ImagePull(ctx, image, types.ImagePullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	} else if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	labels := spec.Labels
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[ManagedLabel] = "true"

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(float64(spec.VCPUs) * 1e9),
		},
	}

	// The container idles on sleep; every tool invocation is a docker exec.
	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      image,
			Cmd:        []string{"tail", "-f", "/dev/null"},
			Labels:     labels,
			WorkingDir: "/workspace",
		},
		hostConfig,
		nil,
		nil,
		"",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		_ = r.remove(context.Background(), resp.ID)
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	// Enforce the requested lifetime. Stop is idempotent, so racing a
	// user-initiated stop is harmless.
	go func(id string, timeout time.Duration) {
		time.Sleep(timeout)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.remove(ctx, id)
	}(resp.ID, spec.Timeout)

	return &handle{rt: r, id: resp.ID}, nil
}

func (r *Runtime) Get(ctx context.Context, id string) (runtime.Handle, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, runtime.ErrSandboxNotFound
		}
		return nil, err
	}
	if !info.State.Running {
		return nil, runtime.ErrSandboxUnavailable
	}
	return &handle{rt: r, id: id}, nil
}

func (r *Runtime) remove(ctx context.Context, id string) error {
	opts := types.ContainerRemoveOptions{Force: true, RemoveVolumes: true}
	if err := r.cli.ContainerRemove(ctx, id, opts); err != nil {
		if client.IsErrNotFound(err) {
			return runtime.ErrSandboxNotFound
		}
		return fmt.Errorf("failed to remove sandbox container: %w", err)
	}
	return nil
}

type handle struct {
	rt *Runtime
	id string
}

func (h *handle) ID() string { return h.id }

func (h *handle) Stop(ctx context.Context) error {
	err := h.rt.remove(ctx, h.id)
	if err == runtime.ErrSandboxNotFound {
		return nil // already gone, Stop is idempotent
	}
	return err
}

func (h *handle) RunCommand(ctx context.Context, cmd runtime.Cmd) (*runtime.ExecResult, error) {
	env := make([]string, 0, len(cmd.Env))
	for k, v := range cmd.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	user := ""
	if cmd.Sudo {
		user = "root"
	}

	execConfig := types.ExecConfig{
		User:         user,
		Cmd:          append([]string{cmd.Bin}, cmd.Args...),
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}

	execResp, err := h.rt.cli.ContainerExecCreate(ctx, h.id, execConfig)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, runtime.ErrSandboxNotFound
		}
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := h.rt.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attach.Close()

	stdout, stderr, err := demux(attach.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	// The exec can report Running briefly after the stream closes.
	exitCode := 0
	for {
		inspect, err := h.rt.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !inspect.Running {
			exitCode = inspect.ExitCode
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	return &runtime.ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

// demux splits Docker's multiplexed exec stream into stdout and stderr.
// Frame header: [type, 0, 0, 0, size(4 bytes big-endian)].
func demux(r io.Reader) (string, string, error) {
	var stdout, stderr strings.Builder
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return stdout.String(), stderr.String(), nil
			}
			return "", "", err
		}
		size := int64(header[4])<<24 | int64(header[5])<<16 | int64(header[6])<<8 | int64(header[7])
		var dst io.Writer
		switch header[0] {
		case 1:
			dst = &stdout
		case 2:
			dst = &stderr
		default:
			dst = io.Discard
		}
		if _, err := io.CopyN(dst, r, size); err != nil {
			return "", "", err
		}
	}
}
