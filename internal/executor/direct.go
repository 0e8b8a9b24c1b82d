package executor

import (
	"context"
)

// DirectMethod evaluates the payload in the interpreter. It is always
// available and leaves no reversible record.
type DirectMethod struct {
	interpreter Interpreter
}

func NewDirectMethod(interpreter Interpreter) *DirectMethod {
	return &DirectMethod{interpreter: interpreter}
}

func (d *DirectMethod) Name() string {
	return MethodDirect
}

func (d *DirectMethod) Available(context.Context) bool {
	return true
}

func (d *DirectMethod) Run(ctx context.Context, req Request) (*Outcome, error) {
	res, err := d.interpreter.Eval(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, &CodeError{Message: res.FailureMessage()}
	}

	return &Outcome{
		Output:      res.Stdout,
		Stderr:      res.Stderr,
		ReturnValue: res.ReturnValue,
		Truncated:   res.Truncated,
	}, nil
}

func (d *DirectMethod) Rollback(context.Context, string) error {
	return ErrNotReversible
}
