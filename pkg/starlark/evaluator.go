// Package starlark runs Starlark scripts that produce render variables.
// Every exported global of a script becomes a template variable.
package starlark

import (
	"fmt"
	"log/slog"
	"os"

	"go.starlark.net/starlark"

	"github.com/cobalto/cobalto/pkg/tmpl"
)

// Evaluator provides Starlark evaluation with values exchanged as
// template values.
type Evaluator struct {
	thread   *starlark.Thread
	builtins starlark.StringDict
	globals  starlark.StringDict
}

// NewEvaluator creates a new Starlark evaluator. print() output goes to
// logger at debug level.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	thread := &starlark.Thread{
		Name: "cobalto",
		Print: func(thread *starlark.Thread, msg string) {
			logger.Debug("starlark", "thread", thread.Name, "msg", msg)
		},
	}
	return &Evaluator{
		thread:   thread,
		builtins: createBuiltins(),
		globals:  make(starlark.StringDict),
	}
}

// SetGlobal sets a global variable in the Starlark environment
func (e *Evaluator) SetGlobal(name string, value tmpl.Value) {
	e.globals[name] = ConvertToStarlark(value)
}

// SetGlobals sets every variable of vars.
func (e *Evaluator) SetGlobals(vars map[string]tmpl.Value) {
	for k, v := range WrapValues(vars) {
		e.globals[k] = v
	}
}

func (e *Evaluator) predeclared() starlark.StringDict {
	predeclared := make(starlark.StringDict, len(e.builtins)+len(e.globals))
	for k, v := range e.builtins {
		predeclared[k] = v
	}
	for k, v := range e.globals {
		predeclared[k] = v
	}
	return predeclared
}

// Eval evaluates a Starlark expression
func (e *Evaluator) Eval(expr string) (tmpl.Value, error) {
	val, err := starlark.Eval(e.thread, "<eval>", expr, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark evaluation error: %w", err)
	}
	return ConvertFromStarlark(val), nil
}

// ExecFile executes a Starlark file and returns the globals it defined.
// src may be nil, in which case filename is read from disk.
func (e *Evaluator) ExecFile(filename string, src any) (starlark.StringDict, error) {
	globals, err := starlark.ExecFile(e.thread, filename, src, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark execution error: %w", err)
	}
	for k, v := range globals {
		e.globals[k] = v
	}
	return globals, nil
}

// ExecString executes a Starlark script from a string
func (e *Evaluator) ExecString(script string) (starlark.StringDict, error) {
	return e.ExecFile("<script>", script)
}

// GetGlobal retrieves a global variable
func (e *Evaluator) GetGlobal(name string) (tmpl.Value, bool) {
	if val, ok := e.globals[name]; ok {
		return ConvertFromStarlark(val), true
	}
	return nil, false
}

// Export returns the exportable globals as render variables.
func (e *Evaluator) Export() map[string]tmpl.Value {
	vars := make(map[string]tmpl.Value)
	for key, value := range e.globals {
		if !isExportableKey(key) {
			continue
		}
		if _, ok := value.(starlark.Callable); ok {
			continue
		}
		vars[key] = ConvertFromStarlark(value)
	}
	return vars
}

// isExportableKey skips builtins and names starting with an underscore.
func isExportableKey(key string) bool {
	switch key {
	case "print", "env":
		return false
	}
	return key != "" && key[0] != '_'
}

func createBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"env": starlark.NewBuiltin("env", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			var def starlark.Value = starlark.None
			if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name, &def); err != nil {
				return nil, err
			}
			if v, ok := os.LookupEnv(name); ok {
				return starlark.String(v), nil
			}
			return def, nil
		}),
	}
}

// LoadFile runs the script at path with vars predeclared and returns vars
// overlaid with the variables the script exports.
func LoadFile(path string, vars map[string]tmpl.Value, logger *slog.Logger) (map[string]tmpl.Value, error) {
	e := NewEvaluator(logger)
	e.SetGlobals(vars)
	if _, err := e.ExecFile(path, nil); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return e.Export(), nil
}
