package docker

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the local daemon only when DOCKER_TEST_IMAGE names an image
// with a POSIX shell, e.g. alpine:3.20.
func TestClient_RunOnce(t *testing.T) {
	image := os.Getenv("DOCKER_TEST_IMAGE")
	if image == "" {
		t.Skip("DOCKER_TEST_IMAGE not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := NewClient()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.IsAvailable(ctx))
	require.NoError(t, c.EnsureImage(ctx, image))

	var stdout, stderr bytes.Buffer
	out, err := c.RunOnce(ctx, RunSpec{
		Image: image,
		Cmd:   []string{"sh", "-c", "echo hello; echo oops >&2; exit 3"},
	}, &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "hello\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
}

func TestClient_RunOnceHonoursDeadline(t *testing.T) {
	image := os.Getenv("DOCKER_TEST_IMAGE")
	if image == "" {
		t.Skip("DOCKER_TEST_IMAGE not set")
	}

	c, err := NewClient()
	require.NoError(t, err)
	defer c.Close()

	setup, cancelSetup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelSetup()
	require.NoError(t, c.EnsureImage(setup, image))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	_, err = c.RunOnce(ctx, RunSpec{Image: image, Cmd: []string{"sleep", "30"}}, &stdout, &stderr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
