package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RunResult is what one interpreter invocation produced.
type RunResult struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	ReturnValue interface{}
	// Exception is the message of an uncaught Throwable, if any.
	Exception string
	Duration  time.Duration
	Truncated bool
}

// Failed reports whether the run should count as a failed execution.
func (r *RunResult) Failed() bool {
	return r.ExitCode != 0 || r.Exception != ""
}

// FailureMessage picks the most useful description of a failed run.
func (r *RunResult) FailureMessage() string {
	switch {
	case r.Exception != "":
		return r.Exception
	case strings.TrimSpace(r.Stderr) != "":
		return strings.TrimSpace(r.Stderr)
	}
	return fmt.Sprintf("interpreter exited with code %d", r.ExitCode)
}

// Interpreter runs PHP source or a PHP file and captures its output.
type Interpreter interface {
	Name() string
	Eval(ctx context.Context, code string) (*RunResult, error)
	RunFile(ctx context.Context, path string) (*RunResult, error)
}

const (
	returnMarker    = "__SITEPILOT_RETURN__"
	exceptionMarker = "__SITEPILOT_EXCEPTION__"
)

// StripTags removes a leading <?php (or <?) and a trailing ?> so the body
// can be evaluated as a closure.
func StripTags(code string) string {
	code = strings.TrimSpace(code)
	switch {
	case strings.HasPrefix(strings.ToLower(code), "<?php"):
		code = code[len("<?php"):]
	case strings.HasPrefix(code, "<?"):
		code = code[len("<?"):]
	}
	code = strings.TrimSpace(code)
	code = strings.TrimSuffix(code, "?>")
	return strings.TrimSpace(code)
}

// wrapEval builds the script passed to php -r. User code runs inside a
// closure so an explicit return value can be reported on stderr.
func wrapEval(code, wpLoad string) string {
	return buildScript(wpLoad, "(function () {\n"+StripTags(code)+"\n})()")
}

func wrapFile(path, wpLoad string) string {
	return buildScript(wpLoad, "(function () { $__r = include "+phpString(path)+"; return $__r === 1 ? null : $__r; })()")
}

func buildScript(wpLoad, expr string) string {
	var b strings.Builder
	if wpLoad != "" {
		b.WriteString("define('WP_USE_THEMES', false);\n")
		b.WriteString("require_once " + phpString(wpLoad) + ";\n")
	}
	b.WriteString("try {\n")
	b.WriteString("\t$__sitepilot_return = " + expr + ";\n")
	b.WriteString("} catch (\\Throwable $__sitepilot_e) {\n")
	b.WriteString("\tfwrite(STDERR, \"\\n" + exceptionMarker + "\" . json_encode(get_class($__sitepilot_e) . ': ' . $__sitepilot_e->getMessage()) . \"\\n\");\n")
	b.WriteString("\texit(255);\n")
	b.WriteString("}\n")
	b.WriteString("if ($__sitepilot_return !== null) {\n")
	b.WriteString("\tfwrite(STDERR, \"\\n" + returnMarker + "\" . json_encode($__sitepilot_return) . \"\\n\");\n")
	b.WriteString("}\n")
	return b.String()
}

func phpString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

// extractMarkers pulls the return and exception markers out of stderr.
func extractMarkers(res *RunResult) {
	var kept []string
	for _, line := range strings.Split(res.Stderr, "\n") {
		switch {
		case strings.HasPrefix(line, returnMarker):
			var v interface{}
			if err := json.Unmarshal([]byte(line[len(returnMarker):]), &v); err == nil {
				res.ReturnValue = v
			}
		case strings.HasPrefix(line, exceptionMarker):
			var msg string
			if err := json.Unmarshal([]byte(line[len(exceptionMarker):]), &msg); err == nil {
				res.Exception = msg
			}
		default:
			kept = append(kept, line)
		}
	}
	res.Stderr = strings.TrimSpace(strings.Join(kept, "\n"))
}

// ProcessInterpreter runs the host PHP CLI.
type ProcessInterpreter struct {
	binary    string
	wpLoad    string
	maxOutput int
}

// NewProcessInterpreter returns an interpreter using binary. When
// wordpressPath is set, wp-load.php from it is required before user code.
func NewProcessInterpreter(binary, wordpressPath string, maxOutput int) *ProcessInterpreter {
	if binary == "" {
		binary = "php"
	}
	var wpLoad string
	if wordpressPath != "" {
		wpLoad = filepath.Join(wordpressPath, "wp-load.php")
	}
	return &ProcessInterpreter{binary: binary, wpLoad: wpLoad, maxOutput: maxOutput}
}

func (p *ProcessInterpreter) Name() string {
	return "process"
}

func (p *ProcessInterpreter) Eval(ctx context.Context, code string) (*RunResult, error) {
	return p.run(ctx, wrapEval(code, p.wpLoad))
}

func (p *ProcessInterpreter) RunFile(ctx context.Context, path string) (*RunResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, wrapFile(abs, p.wpLoad))
}

func (p *ProcessInterpreter) run(ctx context.Context, script string) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, p.binary, phpArgs(script)...)

	var stdout, stderr bytes.Buffer
	outW := newLimitedWriter(&stdout, p.maxOutput)
	errW := newLimitedWriter(&stderr, p.maxOutput)
	cmd.Stdout = outW
	cmd.Stderr = errW

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("execution aborted: %w", ctx.Err())
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to start %s: %w", p.binary, err)
		}
		exitCode = exitErr.ExitCode()
	}

	res := &RunResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		Duration:  duration,
		Truncated: outW.Truncated() || errW.Truncated(),
	}
	extractMarkers(res)
	return res, nil
}

func phpArgs(script string) []string {
	return []string{
		"-d", "display_errors=stderr",
		"-d", "log_errors=0",
		"-d", "html_errors=0",
		"-r", script,
	}
}

// limitedWriter keeps at most limit bytes and silently drops the rest while
// reporting full writes, so the child never sees a short write.
type limitedWriter struct {
	buf     *bytes.Buffer
	limit   int
	dropped int64
}

func newLimitedWriter(buf *bytes.Buffer, limit int) *limitedWriter {
	return &limitedWriter{buf: buf, limit: limit}
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) <= remaining {
		return w.buf.Write(p)
	}
	if _, err := w.buf.Write(p[:remaining]); err != nil {
		return 0, err
	}
	w.dropped += int64(len(p) - remaining)
	return len(p), nil
}

// Truncated reports whether any output was dropped.
func (w *limitedWriter) Truncated() bool {
	return w.dropped > 0
}

func formatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds()*1000, 'f', 1, 64) + "ms"
}
