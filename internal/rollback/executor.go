// Package rollback replays the stored inverse instructions of a snapshot.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/michelebogoni/sitepilot/internal/audit"
	"github.com/michelebogoni/sitepilot/internal/executor"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/michelebogoni/sitepilot/internal/state"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
)

type SnapshotSource interface {
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
}

// CodeReverter undoes the custom-file or snippet side of an execution.
type CodeReverter interface {
	Rollback(ctx context.Context, identifier, method string) error
}

type Notifier interface {
	PublishRollbackCompleted(ctx context.Context, result *models.RollbackResult) error
}

type Executor struct {
	snapshots SnapshotSource
	entities  wordpress.EntityStore
	options   wordpress.OptionStore
	reverter  CodeReverter
	notifier  Notifier
	auditor   audit.Recorder
	log       *logger.Logger
}

type Option func(*Executor)

func WithCodeReverter(r CodeReverter) Option {
	return func(e *Executor) { e.reverter = r }
}

func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

func WithAuditor(a audit.Recorder) Option {
	return func(e *Executor) { e.auditor = a }
}

func NewExecutor(snapshots SnapshotSource, entities wordpress.EntityStore, options wordpress.OptionStore, log *logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		snapshots: snapshots,
		entities:  entities,
		options:   options,
		auditor:   audit.Nop{},
		log:       log.With("component", "rollback"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies every instruction of the snapshot independently. A failing
// instruction is recorded and the rest still run. Execute never returns nil.
func (e *Executor) Execute(ctx context.Context, snapshotID string) *models.RollbackResult {
	result := &models.RollbackResult{
		SnapshotID: snapshotID,
		Operations: []models.OperationRollback{},
		Timestamp:  time.Now(),
	}

	snap, err := e.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		result.Status = models.RollbackError
		if errors.Is(err, snapshot.ErrNotFound) {
			result.Message = fmt.Sprintf("Snapshot %s not found", snapshotID)
		} else {
			result.Message = fmt.Sprintf("Failed to load snapshot %s: %v", snapshotID, err)
		}
		e.log.Warn("Rollback aborted", "snapshot_id", snapshotID, "error", err)
		return result
	}

	if len(snap.RollbackInstructions) == 0 {
		result.Status = models.RollbackError
		result.Message = "Snapshot has no reversible operations"
		e.finish(ctx, snap, result)
		return result
	}

	e.log.Info("Starting rollback",
		"snapshot_id", snapshotID,
		"instructions", len(snap.RollbackInstructions),
		"instruction_version", snap.InstructionVersion,
	)

	for _, in := range snap.RollbackInstructions {
		op := models.OperationRollback{
			OperationIndex: in.OperationIndex,
			Kind:           in.Kind,
			Target:         in.Target,
		}
		if err := e.applySafely(ctx, in); err != nil {
			op.Error = err.Error()
			result.Failed++
			e.log.Warn("Rollback instruction failed",
				"snapshot_id", snapshotID,
				"kind", in.Kind,
				"target", in.Target,
				"error", err,
			)
		} else {
			op.Success = true
			result.Restored++
		}
		result.Operations = append(result.Operations, op)
	}

	switch {
	case result.Failed == 0:
		result.Success = true
		result.Status = models.RollbackSuccess
		result.Message = fmt.Sprintf("Rollback completed: %d operations restored", result.Restored)
	case result.Restored > 0:
		result.Status = models.RollbackPartial
		result.Message = fmt.Sprintf("Rollback partially completed: %d restored, %d failed", result.Restored, result.Failed)
	default:
		result.Status = models.RollbackError
		result.Message = fmt.Sprintf("Rollback failed: %d operations could not be restored", result.Failed)
	}

	e.finish(ctx, snap, result)
	return result
}

func (e *Executor) finish(ctx context.Context, snap *models.Snapshot, result *models.RollbackResult) {
	e.log.Info("Rollback finished",
		"snapshot_id", snap.ID,
		"status", result.Status,
		"restored", result.Restored,
		"failed", result.Failed,
	)

	if e.notifier != nil {
		if err := e.notifier.PublishRollbackCompleted(ctx, result); err != nil {
			e.log.Warn("Failed to publish rollback result", "snapshot_id", snap.ID, "error", err)
		}
	}

	err := e.auditor.Record(ctx, audit.Entry{
		EventType:  audit.EventRollback,
		ChatID:     snap.ChatID,
		ActionID:   snap.ActionID,
		SnapshotID: snap.ID,
		Success:    result.Success,
		Message:    result.Message,
		Payload: map[string]interface{}{
			"status":   string(result.Status),
			"restored": result.Restored,
			"failed":   result.Failed,
		},
	})
	if err != nil {
		e.log.Warn("Failed to record rollback audit entry", "snapshot_id", snap.ID, "error", err)
	}
}

func (e *Executor) applySafely(ctx context.Context, in models.RollbackInstruction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while applying %s: %v", in.Kind, r)
		}
	}()
	return e.apply(ctx, in)
}

func (e *Executor) apply(ctx context.Context, in models.RollbackInstruction) error {
	switch in.Kind {
	case models.InstructionDeletePost:
		id, err := parseEntityID(in.EntityID)
		if err != nil {
			return err
		}
		return notFoundAs(e.entities.DeletePost(ctx, id), "post %d", id)

	case models.InstructionRestorePost, models.InstructionRecreatePost:
		return e.restorePost(ctx, in.EntityID, in.State)

	case models.InstructionRestoreMeta:
		postID, err := parseEntityID(in.EntityID)
		if err != nil {
			return err
		}
		if in.Key == "" {
			return fmt.Errorf("meta instruction for post %d has no key", postID)
		}
		return e.entities.SetPostMeta(ctx, postID, in.Key, in.State.String("meta_value"))

	case models.InstructionDeleteMeta:
		postID, err := parseEntityID(in.EntityID)
		if err != nil {
			return err
		}
		return e.entities.DeletePostMeta(ctx, postID, in.Key)

	case models.InstructionRestoreOption:
		return e.restoreOption(ctx, in.Key, in.State)

	case models.InstructionDeleteOption:
		return notFoundAs(e.options.DeleteOption(ctx, in.Key), "option %q", in.Key)

	case models.InstructionRestoreTerm, models.InstructionRecreateTerm:
		_, err := e.restoreTerm(ctx, in.EntityID, in.State)
		return err

	case models.InstructionDeleteTerm:
		id, err := parseEntityID(in.EntityID)
		if err != nil {
			return err
		}
		return notFoundAs(e.entities.DeleteTerm(ctx, id), "term %d", id)

	case models.InstructionRestoreMenu:
		return e.restoreMenu(ctx, in.EntityID, in.State)

	case models.InstructionRestoreWidget:
		return e.restoreWidget(ctx, in.EntityID, in.State)

	case models.InstructionRestoreACFGroup:
		return e.restoreACFGroup(ctx, in.EntityID, in.State)

	case models.InstructionDeleteCustomFile, models.InstructionRestoreCustomFile:
		return e.revertCode(ctx, in.EntityID, executor.MethodCustomFile)

	case models.InstructionDeleteSnippet:
		return e.revertCode(ctx, in.EntityID, executor.MethodSnippet)

	case models.InstructionRestoreFromBefore:
		return e.restoreFromBefore(ctx, in)
	}
	return fmt.Errorf("unsupported rollback instruction %q", in.Kind)
}

// restoreFromBefore handles operation types without a dedicated mapping by
// restoring the before state of whatever entity the target names.
func (e *Executor) restoreFromBefore(ctx context.Context, in models.RollbackInstruction) error {
	ref, err := state.ParseEntityRef(in.Target)
	if err != nil {
		return fmt.Errorf("no restore handler for target %q: %w", in.Target, err)
	}
	if len(in.State) == 0 {
		return fmt.Errorf("no before state recorded for %s", in.Target)
	}

	switch ref.Type {
	case state.EntityPost:
		return e.restorePost(ctx, ref.ID, in.State)
	case state.EntityOption:
		return e.restoreOption(ctx, ref.ID, in.State)
	case state.EntityTerm:
		_, err := e.restoreTerm(ctx, ref.ID, in.State)
		return err
	case state.EntityMenu:
		return e.restoreMenu(ctx, ref.ID, in.State)
	case state.EntityWidget:
		return e.restoreWidget(ctx, ref.ID, in.State)
	case state.EntityACFGroup:
		return e.restoreACFGroup(ctx, ref.ID, in.State)
	}
	return fmt.Errorf("no restore handler for %s", ref.Type)
}

func (e *Executor) revertCode(ctx context.Context, identifier, method string) error {
	if e.reverter == nil {
		return fmt.Errorf("no %s reverter configured", method)
	}
	if identifier == "" {
		return fmt.Errorf("%s instruction has no identifier", method)
	}
	return e.reverter.Rollback(ctx, identifier, method)
}

func parseEntityID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid entity id %q", id)
	}
	return n, nil
}

func notFoundAs(err error, format string, args ...interface{}) error {
	if errors.Is(err, wordpress.ErrEntityNotFound) {
		return fmt.Errorf(format+" not found", args...)
	}
	return err
}
