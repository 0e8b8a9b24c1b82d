package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/nats-io/nats.go"
)

const (
	SubjectExecutionStatus   = "executions.status"
	SubjectSnapshotCreated   = "snapshots.created"
	SubjectRollbackCompleted = "rollbacks.completed"
	SubjectRollbackRequested = "rollback.requested"
	SubjectDispatchRequested = "actions.dispatch"
	subjectLogPrefix         = "logs."
)

type ExecutionStatusEvent struct {
	ActionID  string                  `json:"action_id"`
	ChatID    string                  `json:"chat_id,omitempty"`
	MessageID string                  `json:"message_id,omitempty"`
	Status    models.ActionStatus     `json:"status"`
	Result    *models.ExecutionResult `json:"result,omitempty"`
	Timestamp int64                   `json:"timestamp"`
}

type SnapshotCreatedEvent struct {
	SnapshotID   string `json:"snapshot_id"`
	ChatID       string `json:"chat_id"`
	MessageID    string `json:"message_id,omitempty"`
	ActionID     string `json:"action_id,omitempty"`
	Operations   int    `json:"operations"`
	Instructions int    `json:"instructions"`
	SizeBytes    int64  `json:"size_bytes"`
	Timestamp    int64  `json:"timestamp"`
}

type LogEvent struct {
	ChatID    string `json:"chat_id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Close()
}

type Publisher struct {
	conn Conn
	log  *logger.Logger
}

func NewPublisher(natsURL string, log *logger.Logger) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("sitepilot-executor-pub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second))

	if err != nil {
		return nil, err
	}

	log.Info("Publisher connected to NATS", "url", natsURL)

	return NewPublisherWithConn(conn, log), nil
}

func NewPublisherWithConn(conn Conn, log *logger.Logger) *Publisher {
	return &Publisher{conn: conn, log: log.With("component", "eventbus")}
}

func (p *Publisher) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) PublishExecutionStatus(_ context.Context, action *models.Action) error {
	event := ExecutionStatusEvent{
		ActionID:  action.ID,
		ChatID:    action.ChatID,
		MessageID: action.MessageID,
		Status:    action.Status,
		Result:    action.Result,
		Timestamp: time.Now().Unix(),
	}
	if err := p.publish(SubjectExecutionStatus, event); err != nil {
		return err
	}

	p.log.Debug("Published execution status", "action_id", action.ID, "status", action.Status)
	return nil
}

func (p *Publisher) PublishSnapshotCreated(_ context.Context, snap *models.Snapshot) error {
	event := SnapshotCreatedEvent{
		SnapshotID:   snap.ID,
		ChatID:       snap.ChatID,
		MessageID:    snap.MessageID,
		ActionID:     snap.ActionID,
		Operations:   len(snap.Operations),
		Instructions: len(snap.RollbackInstructions),
		SizeBytes:    snap.SizeBytes,
		Timestamp:    snap.CreatedAt.Unix(),
	}
	if err := p.publish(SubjectSnapshotCreated, event); err != nil {
		return err
	}

	p.log.Debug("Published snapshot created", "snapshot_id", snap.ID)
	return nil
}

func (p *Publisher) PublishRollbackCompleted(_ context.Context, result *models.RollbackResult) error {
	if err := p.publish(SubjectRollbackCompleted, result); err != nil {
		return err
	}

	p.log.Info("Published rollback result", "snapshot_id", result.SnapshotID, "status", result.Status)
	return nil
}

// PublishLog forwards one progress line to logs.<chatID>.
func (p *Publisher) PublishLog(chatID, level, message string) error {
	return p.publish(subjectLogPrefix+chatID, LogEvent{
		ChatID:    chatID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.log.Info("Publisher disconnected from NATS")
	}
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
