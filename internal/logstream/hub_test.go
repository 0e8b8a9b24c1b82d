package logstream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingForwarder struct {
	lines []string
}

func (f *recordingForwarder) PublishLog(chatID, level, message string) error {
	f.lines = append(f.lines, chatID+"|"+level+"|"+message)
	return nil
}

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub(4, logger.NewNop())
	fwd := &recordingForwarder{}
	h.SetForwarder(fwd)

	lines, cancel := h.Subscribe("c1")
	other, cancelOther := h.Subscribe("c2")
	defer cancelOther()

	h.Infof("c1", "Running %s", "code")
	h.Errorf("c1", "failed")

	first := <-lines
	assert.Equal(t, "Running code", first.Message)
	assert.Equal(t, LevelInfo, first.Level)
	assert.Equal(t, "c1", first.ChatID)
	assert.False(t, first.Time.IsZero())

	second := <-lines
	assert.Equal(t, LevelError, second.Level)

	select {
	case l := <-other:
		t.Fatalf("unexpected line for other chat: %v", l)
	default:
	}

	assert.Equal(t, []string{"c1|info|Running code", "c1|error|failed"}, fwd.lines)

	assert.Equal(t, 1, h.Subscribers("c1"))
	cancel()
	cancel()
	assert.Zero(t, h.Subscribers("c1"))
	_, open := <-lines
	assert.False(t, open)
}

func TestHub_ChatIDWhitespaceIgnored(t *testing.T) {
	h := NewHub(4, logger.NewNop())

	lines, cancel := h.Subscribe(" c1 ")
	defer cancel()
	assert.Equal(t, 1, h.Subscribers("c1"))
	assert.Equal(t, 1, h.Subscribers("c1\n"))

	h.Infof("c1", "hello")
	h.Infof("\tc1", "again")

	require.Len(t, lines, 2)
	assert.Equal(t, "hello", (<-lines).Message)
	assert.Equal(t, "c1", (<-lines).ChatID)
}

func TestHub_SlowSubscriberDropsLines(t *testing.T) {
	h := NewHub(2, logger.NewNop())
	lines, cancel := h.Subscribe("c1")
	defer cancel()

	for i := 0; i < 5; i++ {
		h.Infof("c1", "line %d", i)
	}

	assert.Len(t, lines, 2)
	assert.Equal(t, "line 0", (<-lines).Message)
	assert.Equal(t, "line 1", (<-lines).Message)
}

func TestHub_ServeSSE(t *testing.T) {
	h := NewHub(8, logger.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeSSE(w, r, "c1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return h.Subscribers("c1") == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Infof("c1", "hello")

	reader := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = line
		}
	}
	assert.Contains(t, data, `"message":"hello"`)
}
