// Package executor vets AI-generated PHP and runs it through an ordered
// fallback chain of execution methods, recording what it changed.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/security"
	"github.com/michelebogoni/sitepilot/internal/state"
)

// CodeData is the payload of an execute_code action.
type CodeData struct {
	Content     string
	Title       string
	Description string
	Language    string
	Location    string
	// AutoExecute false asks for the code to be installed but left inactive.
	// Nil means true.
	AutoExecute *bool
}

// ExecutionContext tags the resulting snapshot. Targets are the entities
// whose state is captured around the run.
type ExecutionContext struct {
	ChatID    string
	MessageID string
	ActionID  string
	Targets   []state.EntityRef
}

type StateCapturer interface {
	Capture(ctx context.Context, ref state.EntityRef) (models.StateMap, error)
}

type SnapshotCreator interface {
	CreateSnapshot(ctx context.Context, chatID, messageID, actionID string, operations []models.Operation) (string, error)
}

type Executor struct {
	validator *security.Validator
	methods   []Method
	capturer  StateCapturer
	snapshots SnapshotCreator
	timeout   time.Duration
	log       *logger.Logger
}

// New builds an executor that tries methods in order. capturer and
// snapshots may be nil, in which case nothing is recorded.
func New(validator *security.Validator, methods []Method, capturer StateCapturer, snapshots SnapshotCreator, timeout time.Duration, log *logger.Logger) *Executor {
	if validator == nil {
		validator = security.Default()
	}
	return &Executor{
		validator: validator,
		methods:   methods,
		capturer:  capturer,
		snapshots: snapshots,
		timeout:   timeout,
		log:       log.With("component", "executor"),
	}
}

// Validate exposes the deny-list check on its own.
func (e *Executor) Validate(code string) security.Report {
	return e.validator.Validate(code)
}

// Execute never returns a nil result and never panics; every failure is
// reported through the result's status.
func (e *Executor) Execute(ctx context.Context, code CodeData, ec *ExecutionContext) (result *models.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Execution panicked", "panic", r)
			result = models.NewErrorResult(fmt.Sprintf("Execution failed: %v", r))
		}
	}()

	if strings.TrimSpace(code.Content) == "" {
		return models.NewErrorResult("Empty code")
	}

	report := e.validator.Validate(code.Content)
	if !report.Passed {
		e.log.Warn("Code blocked by security validator", "violations", report.Violations)
		return models.NewBlockedResult(
			"Code blocked by security validator: "+strings.Join(report.Violations, ", "),
			report.Violations,
		)
	}

	if ec == nil {
		ec = &ExecutionContext{}
	}
	before := e.captureAll(ctx, ec.Targets)

	req := Request{
		Code:        code.Content,
		Title:       code.Title,
		Description: code.Description,
		Language:    code.Language,
		Location:    code.Location,
		ChatID:      ec.ChatID,
		ActionID:    ec.ActionID,
		Inactive:    code.AutoExecute != nil && !*code.AutoExecute,
	}

	method, outcome, attempts, codeErr := e.runChain(ctx, req)
	if codeErr != nil {
		e.log.Warn("Code failed during execution", "method", method.Name(), "action_id", ec.ActionID, "error", codeErr)
		res := models.NewErrorResult("Execution failed: " + codeErr.Error())
		res.Method = method.Name()
		res.Data = map[string]interface{}{"attempts": attempts}
		return res
	}
	if outcome == nil {
		msg := "No execution method available"
		if len(attempts) > 0 {
			msg = "Execution failed: " + attempts[len(attempts)-1].Error
		}
		res := models.NewErrorResult(msg)
		res.Data = map[string]interface{}{"attempts": attempts}
		return res
	}

	res := models.NewSuccessResult(fmt.Sprintf("Code executed successfully via %s", method.Name()))
	res.Output = outcome.Output
	res.ReturnValue = outcome.ReturnValue
	res.Method = method.Name()
	res.Identifier = outcome.Identifier

	data := map[string]interface{}{}
	if len(attempts) > 0 {
		data["attempts"] = attempts
	}
	if outcome.Stderr != "" {
		data["stderr"] = outcome.Stderr
	}
	if outcome.Truncated {
		data["truncated"] = true
	}

	operations := append(e.deriveOperations(ctx, ec.Targets, before), outcome.Operations...)
	if len(operations) > 0 {
		data["operations"] = len(operations)
		if e.snapshots != nil {
			id, err := e.snapshots.CreateSnapshot(ctx, ec.ChatID, ec.MessageID, ec.ActionID, operations)
			if err != nil {
				e.log.Error("Failed to create snapshot", "action_id", ec.ActionID, "error", err)
				data["snapshot_error"] = err.Error()
			} else {
				res.SnapshotID = id
			}
		}
	}

	if len(data) > 0 {
		res.Data = data
	}

	e.log.Info("Code executed",
		"method", method.Name(),
		"action_id", ec.ActionID,
		"snapshot_id", res.SnapshotID,
	)
	return res
}

// Attempt records a method that was tried and failed.
type Attempt struct {
	Method string `json:"method"`
	Error  string `json:"error"`
}

// runChain tries each available method in turn. Infrastructure failures
// fall through to the next method; a failure of the code itself ends the
// chain and is returned as the final error.
func (e *Executor) runChain(ctx context.Context, req Request) (Method, *Outcome, []Attempt, error) {
	var attempts []Attempt

	for _, m := range e.methods {
		if !m.Available(ctx) {
			e.log.Debug("Execution method unavailable", "method", m.Name())
			continue
		}

		runCtx := ctx
		var cancel context.CancelFunc
		if e.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		}

		start := time.Now()
		outcome, err := m.Run(runCtx, req)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			e.log.Warn("Execution method failed", "method", m.Name(), "error", err)
			attempts = append(attempts, Attempt{Method: m.Name(), Error: err.Error()})
			if endsChain(err) {
				return m, nil, attempts, err
			}
			continue
		}

		e.log.Debug("Execution method succeeded", "method", m.Name(), "duration", formatDuration(time.Since(start)))
		return m, outcome, attempts, nil
	}

	return nil, nil, attempts, nil
}

func (e *Executor) captureAll(ctx context.Context, targets []state.EntityRef) map[string]models.StateMap {
	if e.capturer == nil || len(targets) == 0 {
		return nil
	}

	captured := make(map[string]models.StateMap, len(targets))
	for _, ref := range targets {
		s, err := e.capturer.Capture(ctx, ref)
		if err != nil {
			e.log.Warn("Failed to capture state", "target", ref.String(), "error", err)
			continue
		}
		captured[ref.String()] = s
	}
	return captured
}

// deriveOperations compares the after state of each target with its before
// capture. Targets whose before capture failed are skipped.
func (e *Executor) deriveOperations(ctx context.Context, targets []state.EntityRef, before map[string]models.StateMap) []models.Operation {
	if before == nil {
		return nil
	}

	var ops []models.Operation
	for _, ref := range targets {
		prior, ok := before[ref.String()]
		if !ok {
			continue
		}
		after, err := e.capturer.Capture(ctx, ref)
		if err != nil {
			e.log.Warn("Failed to capture state", "target", ref.String(), "error", err)
			continue
		}
		if op, changed := state.DeriveOperation(ref, prior, after); changed {
			ops = append(ops, op)
		}
	}
	return ops
}

// Rollback undoes a previous run of the named method.
func (e *Executor) Rollback(ctx context.Context, identifier, method string) error {
	for _, m := range e.methods {
		if m.Name() == method {
			return m.Rollback(ctx, identifier)
		}
	}
	if method == MethodDirect {
		return ErrNotReversible
	}
	return fmt.Errorf("%w: %s", ErrMethodUnavailable, method)
}
