// Package logstream fans out per-chat progress lines to live subscribers.
// Delivery is best effort: a subscriber whose buffer is full misses lines.
package logstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/michelebogoni/sitepilot/internal/logger"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

type Line struct {
	ChatID  string    `json:"chat_id"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Forwarder receives a copy of every published line, e.g. the event bus.
type Forwarder interface {
	PublishLog(chatID, level, message string) error
}

type subscriber struct {
	out chan Line
}

type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*subscriber]bool
	buffer    int
	forwarder Forwarder
	log       *logger.Logger
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]bool),
		buffer: buffer,
		log:    log.With("component", "logstream"),
	}
}

// SetForwarder must be called before the hub is shared.
func (h *Hub) SetForwarder(f Forwarder) {
	h.forwarder = f
}

func (h *Hub) Publish(chatID string, line Line) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return
	}
	line.ChatID = chatID
	if line.Time.IsZero() {
		line.Time = time.Now()
	}
	if line.Level == "" {
		line.Level = LevelInfo
	}

	h.mu.RLock()
	for s := range h.subs[chatID] {
		select {
		case s.out <- line:
		default:
			h.log.Debug("Dropping log line; subscriber buffer full", "chat_id", chatID)
		}
	}
	h.mu.RUnlock()

	if h.forwarder != nil {
		if err := h.forwarder.PublishLog(chatID, line.Level, line.Message); err != nil {
			h.log.Debug("Failed to forward log line", "chat_id", chatID, "error", err)
		}
	}
}

// Infof is a convenience for Publish at info level.
func (h *Hub) Infof(chatID, format string, args ...interface{}) {
	h.Publish(chatID, Line{Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

func (h *Hub) Errorf(chatID, format string, args ...interface{}) {
	h.Publish(chatID, Line{Level: LevelError, Message: fmt.Sprintf(format, args...)})
}

// Subscribe returns a channel of lines for chatID. cancel closes the channel
// and is safe to call more than once.
func (h *Hub) Subscribe(chatID string) (<-chan Line, func()) {
	chatID = strings.TrimSpace(chatID)
	s := &subscriber{out: make(chan Line, h.buffer)}

	h.mu.Lock()
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[*subscriber]bool)
	}
	h.subs[chatID][s] = true
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[chatID], s)
			if len(h.subs[chatID]) == 0 {
				delete(h.subs, chatID)
			}
			h.mu.Unlock()
			close(s.out)
		})
	}
	return s.out, cancel
}

// Subscribers reports how many live subscribers chatID has.
func (h *Hub) Subscribers(chatID string) int {
	chatID = strings.TrimSpace(chatID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatID])
}

// ServeSSE streams chatID's lines as text/event-stream until the client goes away.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, chatID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lines, cancel := h.Subscribe(chatID)
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case line, ok := <-lines:
			if !ok {
				return
			}
			data, err := json.Marshal(line)
			if err != nil {
				h.log.Warn("Failed to marshal log line", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
