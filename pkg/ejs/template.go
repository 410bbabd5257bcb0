package ejs

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// Names of the render function parameters, in order.
const params = "locals, filters, escape, rethrow"

// maxPrograms bounds how many key sets a Template keeps compiled programs for.
// When the limit is reached the memo is emptied and starts over.
const maxPrograms = 64

// identifier matches names that can be declared with var.
var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// unbindable holds names that are never hoisted out of locals: reserved words
// and the names the generated program itself relies on.
var unbindable = map[string]bool{
	"locals": true, "filters": true, "escape": true, "rethrow": true,
	"buf": true, "blocks": true, "__stack": true, "__parent": true, "__out": true,
	"arguments": true, "eval": true, "undefined": true, "NaN": true, "Infinity": true,
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true, "do": true,
	"else": true, "enum": true, "export": true, "extends": true, "false": true,
	"finally": true, "for": true, "function": true, "if": true, "import": true,
	"in": true, "instanceof": true, "new": true, "null": true, "return": true,
	"super": true, "switch": true, "this": true, "throw": true, "true": true,
	"try": true, "typeof": true, "var": true, "void": true, "while": true,
	"with": true, "yield": true, "let": true, "static": true, "implements": true,
	"interface": true, "package": true, "private": true, "protected": true,
	"public": true, "await": true,
}

// Template is a compiled template. It is safe for concurrent use; each
// Execute runs in its own JavaScript runtime.
type Template struct {
	opts    Options
	body    string
	filters FilterMap
	escape  func(string) string

	mu       sync.Mutex
	programs map[string]*goja.Program
}

func newTemplate(body string, opts Options, filters FilterMap) (*Template, error) {
	t := &Template{
		opts:     opts,
		body:     body,
		filters:  filters,
		escape:   opts.Escape,
		programs: map[string]*goja.Program{},
	}
	if t.escape == nil {
		t.escape = EscapeHTML
	}
	// Compile the unbound program up front so syntax errors surface here.
	if _, err := t.program(nil); err != nil {
		return nil, err
	}
	return t, nil
}

// Program returns the generated program body.
func (t *Template) Program() string {
	return t.body
}

// ClientSource returns the template as a standalone JavaScript function. With
// the Client option set, the function carries its own escape and rethrow
// fallbacks and can run without this package.
func (t *Template) ClientSource() string {
	var b strings.Builder
	b.WriteString("function anonymous(" + params + ") {\n")
	if t.opts.Client {
		b.WriteString("escape = escape || " + escapeSource + ";\n")
		if !t.opts.NoCompileDebug {
			b.WriteString("rethrow = rethrow || " + rethrowSource + ";\n")
		}
	}
	if !t.opts.NoContextBinding {
		b.WriteString("locals = locals || {};\n")
	}
	b.WriteString(t.body)
	b.WriteString("\n}")
	return b.String()
}

// bindable returns the sorted keys of locals that can be declared as
// variables.
func bindable(locals map[string]any) []string {
	keys := make([]string, 0, len(locals))
	for k := range locals {
		if identifier.MatchString(k) && !unbindable[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// program returns the goja program for a key set, compiling it on first use.
func (t *Template) program(keys []string) (*goja.Program, error) {
	sig := strings.Join(keys, ",")
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.programs[sig]; ok {
		return p, nil
	}

	var b strings.Builder
	b.WriteString("(function(" + params + ") {\n")
	for _, k := range keys {
		b.WriteString("var " + k + " = locals[" + jsString(k) + "];\n")
	}
	b.WriteString(t.body)
	b.WriteString("\n})")

	name := t.opts.Filename
	if name == "" {
		name = "ejs"
	}
	p, err := goja.Compile(name, b.String(), false)
	if err != nil {
		return nil, compileError(err, t.opts.Filename)
	}
	if len(t.programs) >= maxPrograms {
		clear(t.programs)
	}
	t.programs[sig] = p
	return p, nil
}

// compileError adds the template name to a syntax error in generated code.
func compileError(err error, filename string) error {
	if filename != "" {
		return fmt.Errorf("%w in %s", err, filename)
	}
	return fmt.Errorf("%w while compiling ejs", err)
}

// Execute renders the template with locals as data and scope bound as this.
func (t *Template) Execute(locals map[string]any, scope any) (string, error) {
	if locals == nil {
		locals = map[string]any{}
	}
	var keys []string
	if !t.opts.NoContextBinding {
		keys = bindable(locals)
	}
	prg, err := t.program(keys)
	if err != nil {
		return "", err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	v, err := vm.RunProgram(prg)
	if err != nil {
		return "", err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return "", errors.New("generated program is not a function")
	}

	var annotated *RenderError
	rethrow := func(call goja.FunctionCall) goja.Value {
		thrown := call.Argument(0)
		annotated = Annotate(errors.New(errorMessage(thrown)), call.Argument(1).String(),
			call.Argument(2).String(), int(call.Argument(3).ToInteger()))
		panic(thrown)
	}

	this := goja.Undefined()
	if scope != nil {
		this = vm.ToValue(scope)
	}
	out, err := fn(this,
		vm.ToValue(locals),
		t.bindFilters(vm),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(t.escape(call.Argument(0).String()))
		}),
		vm.ToValue(rethrow),
	)
	if err != nil {
		if annotated != nil {
			annotated.Err = err
			return "", annotated
		}
		return "", err
	}
	return out.String(), nil
}

// errorMessage is what String(err) would give in JavaScript.
func errorMessage(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}

// bindFilters exposes the filter registry to the runtime as the filters object.
func (t *Template) bindFilters(vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	for name, fn := range t.filters {
		fn := fn
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, 0, len(call.Arguments))
			for _, a := range call.Arguments[min(1, len(call.Arguments)):] {
				args = append(args, a.Export())
			}
			res, err := fn(call.Argument(0).Export(), args...)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			if l, ok := res.([]any); ok {
				return vm.NewArray(l...)
			}
			return vm.ToValue(res)
		})
	}
	return obj
}
