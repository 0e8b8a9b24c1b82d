package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/nats-io/nats.go"
)

// RollbackRequest names the snapshot to roll back, or the action whose
// latest snapshot should be used.
type RollbackRequest struct {
	SnapshotID string `json:"snapshot_id,omitempty"`
	ActionID   string `json:"action_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

type RollbackProcessor interface {
	Execute(ctx context.Context, snapshotID string) *models.RollbackResult
}

type ActionSnapshotLookup interface {
	GetActionSnapshot(ctx context.Context, actionID string) (*models.Snapshot, error)
}

type DispatchProcessor interface {
	Dispatch(ctx context.Context, action models.Action) *models.ExecutionResult
}

type Subscriber struct {
	conn        *nats.Conn
	rollbackSub *nats.Subscription
	dispatchSub *nats.Subscription
	rollbacks   RollbackProcessor
	snapshots   ActionSnapshotLookup
	dispatcher  DispatchProcessor
	timeout     time.Duration
	log         *logger.Logger
}

// NewSubscriber connects to NATS. Either processor may be nil, in which case
// its subject is not subscribed.
func NewSubscriber(natsURL string, rollbacks RollbackProcessor, snapshots ActionSnapshotLookup, dispatcher DispatchProcessor, timeout time.Duration, log *logger.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("sitepilot-executor-sub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)

	if err != nil {
		return nil, err
	}

	log.Info("Subscriber connected to NATS", "url", natsURL)

	s := newSubscriber(rollbacks, snapshots, dispatcher, timeout, log)
	s.conn = conn
	return s, nil
}

func newSubscriber(rollbacks RollbackProcessor, snapshots ActionSnapshotLookup, dispatcher DispatchProcessor, timeout time.Duration, log *logger.Logger) *Subscriber {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Subscriber{
		rollbacks:  rollbacks,
		snapshots:  snapshots,
		dispatcher: dispatcher,
		timeout:    timeout,
		log:        log.With("component", "eventbus"),
	}
}

func (s *Subscriber) Start() error {
	var err error

	if s.rollbacks != nil {
		s.rollbackSub, err = s.conn.Subscribe(SubjectRollbackRequested, s.handleRollbackMessage)
		if err != nil {
			return err
		}
		s.log.Info("Subscribed to subject", "subject", SubjectRollbackRequested)
	}

	if s.dispatcher != nil {
		s.dispatchSub, err = s.conn.Subscribe(SubjectDispatchRequested, s.handleDispatchMessage)
		if err != nil {
			return err
		}
		s.log.Info("Subscribed to subject", "subject", SubjectDispatchRequested)
	}

	return nil
}

func (s *Subscriber) handleRollbackMessage(msg *nats.Msg) {
	if result := s.processRollback(msg.Data); result != nil {
		s.reply(msg, result)
	}
}

func (s *Subscriber) processRollback(data []byte) *models.RollbackResult {
	s.log.Info("Received rollback request from event bus", "bytes", len(data))

	var request RollbackRequest
	if err := json.Unmarshal(data, &request); err != nil {
		s.log.Warn("Failed to unmarshal rollback request", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	snapshotID := request.SnapshotID
	if snapshotID == "" && request.ActionID != "" && s.snapshots != nil {
		snap, err := s.snapshots.GetActionSnapshot(ctx, request.ActionID)
		if err != nil {
			s.log.Warn("No snapshot for rollback request", "action_id", request.ActionID, "error", err)
			return &models.RollbackResult{
				Status:    models.RollbackError,
				Message:   "No snapshot found for action " + request.ActionID,
				Timestamp: time.Now(),
			}
		}
		snapshotID = snap.ID
	}
	if snapshotID == "" {
		s.log.Warn("Rollback request names no snapshot")
		return nil
	}

	s.log.Info("Processing rollback request", "snapshot_id", snapshotID, "reason", request.Reason)
	result := s.rollbacks.Execute(ctx, snapshotID)
	s.log.Info("Rollback request completed", "snapshot_id", snapshotID, "status", result.Status)
	return result
}

func (s *Subscriber) handleDispatchMessage(msg *nats.Msg) {
	result := s.processDispatch(msg.Data)
	s.reply(msg, result)
}

func (s *Subscriber) processDispatch(data []byte) *models.ExecutionResult {
	s.log.Info("Received dispatch request from event bus", "bytes", len(data))

	var action models.Action
	if err := json.Unmarshal(data, &action); err != nil {
		s.log.Warn("Failed to unmarshal action", "error", err)
		return models.NewErrorResult("Invalid action payload: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	return s.dispatcher.Dispatch(ctx, action)
}

// reply answers request/reply callers; fire-and-forget messages have no
// reply subject and are left alone.
func (s *Subscriber) reply(msg *nats.Msg, v interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("Failed to marshal reply", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("Failed to send reply", "subject", msg.Subject, "error", err)
	}
}

func (s *Subscriber) Close() {
	if s.rollbackSub != nil {
		_ = s.rollbackSub.Unsubscribe()
	}
	if s.dispatchSub != nil {
		_ = s.dispatchSub.Unsubscribe()
	}

	if s.conn != nil {
		s.conn.Close()
		s.log.Info("Subscriber disconnected from NATS")
	}
}

func (s *Subscriber) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}
