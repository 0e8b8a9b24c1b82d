package executor

import (
	"context"
	"errors"

	"github.com/michelebogoni/sitepilot/internal/models"
)

var (
	ErrMethodUnavailable = errors.New("execution method unavailable")
	ErrNotReversible     = errors.New("direct execution cannot be automatically rolled back")
)

// CodeError reports that the interpreter ran the payload and the payload
// itself failed. The chain stops on it instead of running the code again.
type CodeError struct {
	Message string
}

func (e *CodeError) Error() string {
	return e.Message
}

// endsChain reports whether err means the payload already ran, either to a
// failure of its own or until it was aborted.
func endsChain(err error) bool {
	var codeErr *CodeError
	return errors.As(err, &codeErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

const (
	MethodSnippet    = "snippet"
	MethodCustomFile = "custom_file"
	MethodDirect     = "direct"
)

// Request is one vetted payload handed to a Method.
type Request struct {
	Code        string
	Title       string
	Description string
	Language    string
	Location    string
	ChatID      string
	ActionID    string
	// Inactive installs the payload without activating it, where the method
	// supports that.
	Inactive bool
}

// Outcome is what a successful Method run produced. Operations describe the
// method's own side effects (installed snippets, written files).
type Outcome struct {
	Output      string
	Stderr      string
	ReturnValue interface{}
	Identifier  string
	Truncated   bool
	Operations  []models.Operation
}

// Method is one step of the fallback chain.
type Method interface {
	Name() string
	Available(ctx context.Context) bool
	Run(ctx context.Context, req Request) (*Outcome, error)
	Rollback(ctx context.Context, identifier string) error
}
