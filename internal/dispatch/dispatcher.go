// Package dispatch routes assistant-declared actions to the code executor.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/michelebogoni/sitepilot/internal/audit"
	"github.com/michelebogoni/sitepilot/internal/executor"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/registry"
	"github.com/michelebogoni/sitepilot/internal/state"
)

type CodeExecutor interface {
	Execute(ctx context.Context, code executor.CodeData, ec *executor.ExecutionContext) *models.ExecutionResult
}

type StatusPublisher interface {
	PublishExecutionStatus(ctx context.Context, action *models.Action) error
}

// LogSink receives human-readable progress lines for a chat.
type LogSink interface {
	Infof(chatID, format string, args ...interface{})
	Errorf(chatID, format string, args ...interface{})
}

type Dispatcher struct {
	executor      CodeExecutor
	registry      registry.Store
	publisher     StatusPublisher
	auditor       audit.Recorder
	logs          LogSink
	stopOnFailure bool
	log           *logger.Logger
}

type Option func(*Dispatcher)

func WithRegistry(r registry.Store) Option {
	return func(d *Dispatcher) { d.registry = r }
}

func WithPublisher(p StatusPublisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithAuditor(a audit.Recorder) Option {
	return func(d *Dispatcher) { d.auditor = a }
}

func WithLogSink(l LogSink) Option {
	return func(d *Dispatcher) { d.logs = l }
}

// WithStopOnFailure makes DispatchBatch stop at the first failed action.
func WithStopOnFailure(stop bool) Option {
	return func(d *Dispatcher) { d.stopOnFailure = stop }
}

func New(exec CodeExecutor, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		executor:      exec,
		auditor:       audit.Nop{},
		stopOnFailure: true,
		log:           log.With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one action to completion. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, action models.Action) *models.ExecutionResult {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	action.Status = models.ActionPending

	if d.registry != nil {
		if err := d.registry.Register(ctx, &action); err != nil {
			d.log.Warn("Failed to register action", "action_id", action.ID, "error", err)
		}
	}

	d.transition(ctx, &action, models.ActionExecuting, nil)
	d.infof(action.ChatID, "Executing action %s (%s)", action.ID, action.Type)

	result := d.route(ctx, &action)

	status := models.ActionCompleted
	if !result.Success {
		status = models.ActionFailed
		d.errorf(action.ChatID, "Action %s failed: %s", action.ID, result.Message)
	} else {
		d.infof(action.ChatID, "Action %s completed: %s", action.ID, result.Message)
	}
	d.transition(ctx, &action, status, result)

	err := d.auditor.Record(ctx, audit.Entry{
		EventType:  audit.EventExecution,
		ChatID:     action.ChatID,
		ActionID:   action.ID,
		SnapshotID: result.SnapshotID,
		Success:    result.Success,
		Message:    result.Message,
		Payload: map[string]interface{}{
			"action_type": action.Type,
			"status":      string(result.Status),
			"method":      result.Method,
			"violations":  result.Violations,
		},
	})
	if err != nil {
		d.log.Warn("Failed to record audit entry", "action_id", action.ID, "error", err)
	}

	return result
}

// DispatchBatch runs actions strictly in order. With stop-on-failure set,
// actions after the first failure are not attempted and get no result.
func (d *Dispatcher) DispatchBatch(ctx context.Context, actions []models.Action) []*models.ExecutionResult {
	results := make([]*models.ExecutionResult, 0, len(actions))
	for i, action := range actions {
		result := d.Dispatch(ctx, action)
		results = append(results, result)

		if !result.Success && d.stopOnFailure {
			if remaining := len(actions) - i - 1; remaining > 0 {
				d.log.Info("Stopping batch after failed action", "action_id", action.ID, "skipped", remaining)
			}
			break
		}
	}
	return results
}

func (d *Dispatcher) route(ctx context.Context, action *models.Action) *models.ExecutionResult {
	kind := action.Kind()
	if action.Code() != "" {
		kind = models.KindExecuteCode
	}

	switch kind {
	case models.KindExecuteCode:
		return d.executeCode(ctx, action)

	case models.KindCreatePage,
		models.KindCreatePost,
		models.KindUpdatePost,
		models.KindDeletePost,
		models.KindAddElementorWidget,
		models.KindCreatePlugin,
		models.KindUpdateOption,
		models.KindCreateMenu,
		models.KindRegisterPostType,
		models.KindConfigureSEO:
		d.log.Info("Rejected legacy action", "action_id", action.ID, "type", action.Type)
		res := models.NewErrorResult(fmt.Sprintf(
			"Legacy action type %q is no longer supported. Emit an execute_code action with PHP code instead.",
			action.Type,
		))
		res.Data = map[string]interface{}{"action_type": action.Type, "legacy": true}
		return res

	case models.KindUnknown:
		d.log.Warn("Rejected unsupported action", "action_id", action.ID, "type", action.Type)
	}

	res := models.NewErrorResult(fmt.Sprintf("Unsupported action type %q", action.Type))
	res.Data = map[string]interface{}{"action_type": action.Type}
	return res
}

func (d *Dispatcher) executeCode(ctx context.Context, action *models.Action) *models.ExecutionResult {
	if d.executor == nil {
		return models.NewErrorResult("Code executor is not configured")
	}

	code := executor.CodeData{
		Content:     action.Code(),
		Title:       action.DetailString("title"),
		Description: action.DetailString("description"),
		Language:    action.DetailString("language"),
		Location:    action.DetailString("location"),
	}
	if code.Language == "" {
		code.Language = "php"
	}
	if action.HasDetail("auto_execute") {
		auto := action.DetailBool("auto_execute")
		code.AutoExecute = &auto
	}

	ec := &executor.ExecutionContext{
		ChatID:    action.ChatID,
		MessageID: action.MessageID,
		ActionID:  action.ID,
		Targets:   d.targets(action),
	}
	return d.executor.Execute(ctx, code, ec)
}

// targets collects the entity refs named by the action's target and
// details.targets. Malformed refs are logged and ignored.
func (d *Dispatcher) targets(action *models.Action) []state.EntityRef {
	raw := action.DetailStrings("targets")
	if action.Target != "" {
		raw = append([]string{action.Target}, raw...)
	}

	seen := make(map[string]bool, len(raw))
	refs := make([]state.EntityRef, 0, len(raw))
	for _, r := range raw {
		ref, err := state.ParseEntityRef(r)
		if err != nil {
			d.log.Warn("Ignoring invalid target", "action_id", action.ID, "target", r, "error", err)
			continue
		}
		if seen[ref.String()] {
			continue
		}
		seen[ref.String()] = true
		refs = append(refs, ref)
	}
	return refs
}

func (d *Dispatcher) transition(ctx context.Context, action *models.Action, status models.ActionStatus, result *models.ExecutionResult) {
	now := time.Now()
	action.Status = status
	switch status {
	case models.ActionExecuting:
		action.StartedAt = &now
	case models.ActionCompleted, models.ActionFailed:
		action.CompletedAt = &now
		action.Result = result
	}

	if d.registry != nil {
		if err := d.registry.UpdateStatus(ctx, action.ID, status, result); err != nil {
			d.log.Warn("Failed to update action status", "action_id", action.ID, "status", status, "error", err)
		}
	}
	if d.publisher != nil {
		if err := d.publisher.PublishExecutionStatus(ctx, action); err != nil {
			d.log.Warn("Failed to publish action status", "action_id", action.ID, "error", err)
		}
	}
}

func (d *Dispatcher) infof(chatID, format string, args ...interface{}) {
	if d.logs != nil && chatID != "" {
		d.logs.Infof(chatID, format, args...)
	}
}

func (d *Dispatcher) errorf(chatID, format string, args ...interface{}) {
	if d.logs != nil && chatID != "" {
		d.logs.Errorf(chatID, format, args...)
	}
}
