package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/isdmx/databox/dataset"
	"github.com/isdmx/databox/serializer"
)

const (
	// maxCallStackSize bounds recursion depth so runaway recursion raises a
	// catchable RangeError instead of exhausting the goroutine stack.
	maxCallStackSize = 2048
	// maxModuleAlloc bounds single allocations requested through the
	// numeric module.
	maxModuleAlloc = 10_000_000
)

// runEnv is the per-run interpreter state: the VM, captured output streams,
// and the registry mapping bound frame objects back to their datasets so
// result extraction can recover the tabular wire form.
type runEnv struct {
	vm      *goja.Runtime
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	frames  map[*goja.Object]*dataset.Dataset
	modules map[string]goja.Value

	columnErr goja.Callable
}

// newRunEnv builds a fresh, restricted interpreter. The field-name mapper
// lowercases exported Go identifiers so chart methods appear under the
// names scripts actually call (updateLayout, addTrace).
func newRunEnv() *runEnv {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	env := &runEnv{
		vm:      vm,
		frames:  make(map[*goja.Object]*dataset.Dataset),
		modules: make(map[string]goja.Value),
	}
	env.neuterDynamicEval()
	env.installErrorFactory()
	env.installConsole()
	env.installModules()
	env.installRequire()
	return env
}

// neuterDynamicEval removes the dynamic-execution escape hatches. The
// static gate rejects these patterns too; removing the bindings makes the
// restriction hold even for code the scan missed.
func (e *runEnv) neuterDynamicEval() {
	_ = e.vm.Set("eval", goja.Undefined())
	_, _ = e.vm.RunString(`(function () {
	"use strict";
	var blocked = function () { throw new Error("dynamic code evaluation is disabled in sandbox"); };
	try { Function.prototype.constructor = blocked; } catch (ignored) {}
	try { globalThis.Function = blocked; } catch (ignored) {}
})();`)
}

// installErrorFactory compiles the constructor used to raise column-lookup
// errors from frame objects. Building the error inside the VM gives it a
// real prototype chain, so scripts can catch it and the executor can read
// name and message off it.
func (e *runEnv) installErrorFactory() {
	v, err := e.vm.RunString(`(function (msg) {
	var e = new Error(msg);
	e.name = "ColumnError";
	return e;
})`)
	if err != nil {
		return
	}
	if fn, ok := goja.AssertFunction(v); ok {
		e.columnErr = fn
	}
}

// throwColumnError raises a ColumnError inside the VM.
func (e *runEnv) throwColumnError(msg string) {
	if e.columnErr != nil {
		if v, err := e.columnErr(goja.Undefined(), e.vm.ToValue(msg)); err == nil {
			panic(v)
		}
	}
	panic(e.vm.NewGoError(fmt.Errorf("%s", msg)))
}

func (e *runEnv) installConsole() {
	write := func(buf *bytes.Buffer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = e.formatValue(arg)
			}
			buf.WriteString(strings.Join(parts, " "))
			buf.WriteByte('\n')
			return goja.Undefined()
		}
	}

	console := e.vm.NewObject()
	_ = console.Set("log", write(&e.stdout))
	_ = console.Set("info", write(&e.stdout))
	_ = console.Set("debug", write(&e.stdout))
	_ = console.Set("warn", write(&e.stderr))
	_ = console.Set("error", write(&e.stderr))
	_ = e.vm.Set("console", console)
	_ = e.vm.Set("print", write(&e.stdout))
}

// formatValue renders one console argument. Strings print bare; everything
// else goes through the loss-aware serializer so frames and charts print a
// useful summary instead of an opaque object tag.
func (e *runEnv) formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if ds, bound := e.frames[obj]; bound {
			return ds.String()
		}
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	encoded, err := json.Marshal(serializer.Serialize(exported))
	if err != nil {
		return fmt.Sprint(exported)
	}
	return string(encoded)
}

// installRequire binds the allowlist module resolver. Anything outside the
// fixed module set is rejected, which is the hard counterpart of the
// validator's import scan.
func (e *runEnv) installRequire() {
	_ = e.vm.Set("require", func(call goja.FunctionCall) goja.Value {
		name := strings.TrimPrefix(call.Argument(0).String(), "node:")
		if v, ok := e.modules[name]; ok {
			return v
		}
		panic(e.vm.NewGoError(fmt.Errorf("import of %q is not allowed in sandbox", name)))
	})
}

func (e *runEnv) installModules() {
	plot := e.plotModule()
	e.modules["plot"] = plot
	e.modules["plotly"] = plot
	e.modules["num"] = e.numModule()
	e.modules["stats"] = e.statsModule()

	// The modules are also preloaded as globals so scripts work without a
	// require call.
	for name, v := range e.modules {
		_ = e.vm.Set(name, v)
	}
}

// checkAlloc panics with a catchable error when a module-level allocation
// request exceeds the hard cap.
func (e *runEnv) checkAlloc(n int64, what string) {
	if n < 0 || n > maxModuleAlloc {
		panic(e.vm.NewGoError(fmt.Errorf("%s of size %d exceeds the allocation limit (%d)", what, n, maxModuleAlloc)))
	}
}
