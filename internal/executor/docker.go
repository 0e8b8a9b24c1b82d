package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/michelebogoni/sitepilot/internal/docker"
)

// ContainerRunner is the part of docker.Client the sandbox needs.
type ContainerRunner interface {
	EnsureImage(ctx context.Context, imageName string) error
	RunOnce(ctx context.Context, spec docker.RunSpec, stdout, stderr io.Writer) (*docker.RunOutput, error)
}

const (
	containerCodeDir   = "/sitepilot/code"
	sandboxMemoryBytes = 256 * 1024 * 1024
	sandboxNanoCPUs    = 1_000_000_000
)

// DockerInterpreter runs each payload in a fresh networkless PHP container.
// WordPress is not loaded inside the sandbox.
type DockerInterpreter struct {
	runner    ContainerRunner
	image     string
	codeDir   string
	maxOutput int
}

func NewDockerInterpreter(runner ContainerRunner, image, codeDir string, maxOutput int) *DockerInterpreter {
	return &DockerInterpreter{runner: runner, image: image, codeDir: codeDir, maxOutput: maxOutput}
}

func (d *DockerInterpreter) Name() string {
	return "docker"
}

// Prepare pulls the sandbox image ahead of the first run.
func (d *DockerInterpreter) Prepare(ctx context.Context) error {
	return d.runner.EnsureImage(ctx, d.image)
}

func (d *DockerInterpreter) Eval(ctx context.Context, code string) (*RunResult, error) {
	return d.run(ctx, wrapEval(code, ""), nil)
}

// RunFile runs a file that lives under the custom code directory, which is
// mounted read-only into the container.
func (d *DockerInterpreter) RunFile(ctx context.Context, path string) (*RunResult, error) {
	if d.codeDir == "" {
		return nil, fmt.Errorf("docker sandbox has no code directory to mount")
	}
	hostDir, err := filepath.Abs(d.codeDir)
	if err != nil {
		return nil, err
	}
	hostPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(hostDir, hostPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("file %s is outside the code directory", path)
	}

	inContainer := containerCodeDir + "/" + filepath.ToSlash(rel)
	binds := []string{hostDir + ":" + containerCodeDir + ":ro"}
	return d.run(ctx, wrapFile(inContainer, ""), binds)
}

func (d *DockerInterpreter) run(ctx context.Context, script string, binds []string) (*RunResult, error) {
	var stdout, stderr bytes.Buffer
	outW := newLimitedWriter(&stdout, d.maxOutput)
	errW := newLimitedWriter(&stderr, d.maxOutput)

	out, err := d.runner.RunOnce(ctx, docker.RunSpec{
		Image:       d.image,
		Cmd:         append([]string{"php"}, phpArgs(script)...),
		Binds:       binds,
		MemoryBytes: sandboxMemoryBytes,
		NanoCPUs:    sandboxNanoCPUs,
	}, outW, errW)
	if err != nil {
		return nil, fmt.Errorf("sandbox run failed: %w", err)
	}

	res := &RunResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  out.ExitCode,
		Duration:  out.Duration,
		Truncated: outW.Truncated() || errW.Truncated(),
	}
	extractMarkers(res)
	return res, nil
}
