package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

type Client struct {
	cli *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Client{cli: cli}, nil
}

func (c *Client) IsAvailable(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("Docker daemon not available: %w", err)
	}
	return nil
}

// EnsureImage pulls imageName unless it is already present locally.
func (c *Client) EnsureImage(ctx context.Context, imageName string) error {
	if _, _, err := c.cli.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	out, err := c.cli.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer out.Close()

	// The pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, out); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	return nil
}

// RunSpec describes a one-shot container run.
type RunSpec struct {
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	// Binds are host:container[:ro] mounts.
	Binds       []string
	MemoryBytes int64
	NanoCPUs    int64
}

type RunOutput struct {
	ExitCode int
	Duration time.Duration
}

// RunOnce creates a networkless container, waits for it to exit, copies its
// demultiplexed output into stdout and stderr, and removes it. When ctx ends
// first the container is killed and ctx.Err() is returned.
func (c *Client) RunOnce(ctx context.Context, spec RunSpec, stdout, stderr io.Writer) (*RunOutput, error) {
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      spec.WorkingDir,
		NetworkDisabled: true,
		AttachStdout:    true,
		AttachStderr:    true,
	}
	hostCfg := &container.HostConfig{
		Binds:          spec.Binds,
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,size=16m"},
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	id := resp.ID

	// Removal must outlive a cancelled ctx.
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.cli.ContainerRemove(removeCtx, id, container.RemoveOptions{Force: true})
	}()

	start := time.Now()
	if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	waitCh, errCh := c.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case res := <-waitCh:
		if res.Error != nil {
			return nil, fmt.Errorf("container wait failed: %s", res.Error.Message)
		}
		exitCode = int(res.StatusCode)
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("container wait failed: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	duration := time.Since(start)

	logs, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return nil, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}

	return &RunOutput{ExitCode: exitCode, Duration: duration}, nil
}

func (c *Client) Close() error {
	if c.cli != nil {
		return c.cli.Close()
	}
	return nil
}
