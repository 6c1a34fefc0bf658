package jsengine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
)

// fileModule returns the file object with read and exists methods, used by
// scripts that inspect documents the application saved.
func (e *Engine) fileModule() *goja.Object {
	obj := e.runtime.NewObject()

	// file.read(path) -> string
	if err := obj.Set("read", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("file.read requires a path"))
		}
		data, err := os.ReadFile(e.resolve(call.Arguments[0].String())) //#nosec G304 -- path comes from the flow author
		if err != nil {
			panic(e.runtime.NewGoError(err))
		}
		return e.runtime.ToValue(string(data))
	}); err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("failed to set file.read: %v", err)))
	}

	// file.exists(path) -> bool
	if err := obj.Set("exists", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("file.exists requires a path"))
		}
		_, err := os.Stat(e.resolve(call.Arguments[0].String()))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			panic(e.runtime.NewGoError(err))
		}
		return e.runtime.ToValue(err == nil)
	}); err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("failed to set file.exists: %v", err)))
	}

	return obj
}

// resolve is called from inside a running script, with mu already held.
func (e *Engine) resolve(path string) string {
	if filepath.IsAbs(path) || e.baseDir == "" {
		return path
	}
	return filepath.Join(e.baseDir, path)
}
