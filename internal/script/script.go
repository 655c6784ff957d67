// Package script evaluates operator-supplied scripts over captured
// terminal output. Scripts run in a fresh interpreter per call: no
// state survives between evaluations and the only channel out is the
// script's returned value.
package script

import (
	"context"
	"errors"
	"strings"

	"github.com/dop251/goja"

	"github.com/lightangel1412/reconness/internal/model"
)

// Error is a script failure captured as a value. Message holds the
// thrown value (or compile error) verbatim so operators can iterate on
// their script in debug mode.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "script: " + e.Message
}

type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate runs source over output. The script sees two globals:
//
//	output — the whole captured text
//	lines  — the same text split into lines
//
// The value of the script's last expression becomes the result: an
// object's keys form ScriptOutput.Values, any other value lands under
// the "value" key, undefined/null mean an empty ScriptOutput. A thrown
// value or a compile failure comes back as *Error. Cancelling ctx
// interrupts a running script.
func (e *Evaluator) Evaluate(ctx context.Context, source, output string) (model.ScriptOutput, error) {
	vm := goja.New()
	if err := vm.Set("output", output); err != nil {
		return model.ScriptOutput{}, err
	}
	if err := vm.Set("lines", splitLines(output)); err != nil {
		return model.ScriptOutput{}, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	value, err := vm.RunString(source)
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return model.ScriptOutput{}, &Error{Message: exc.Value().String()}
		}
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return model.ScriptOutput{}, ctx.Err()
		}
		return model.ScriptOutput{}, &Error{Message: err.Error()}
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return model.ScriptOutput{}, nil
	}

	switch exported := value.Export().(type) {
	case map[string]any:
		return model.ScriptOutput{Values: exported}, nil
	default:
		return model.ScriptOutput{Values: map[string]any{"value": exported}}, nil
	}
}

func splitLines(output string) []string {
	if output == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(output, "\n"), "\n")
}
