package ejs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// parseState carries what a single (possibly nested) parse needs to know about
// where it sits in the include/extend tree.
type parseState struct {
	// blocks declares a fresh block map. Layouts share the map of the
	// template extending them and leave this off.
	blocks bool
	// binding wraps the body in the context-binding closure. Only the
	// outermost program does this.
	binding bool
	// ancestors holds every file currently being compiled above this one.
	ancestors map[string]bool
}

type parser struct {
	engine   *Engine
	opts     Options
	state    parseState
	stack    scopeStack
	main     channel
	hidden   channel
	extended bool
	line     int
}

// parse compiles src into the body of the render function.
func (e *Engine) parse(src string, opts Options, state parseState) (string, error) {
	opts = e.withDefaults(opts)
	p := &parser{engine: e, opts: opts, state: state, line: 1}
	if state.ancestors == nil {
		p.state.ancestors = map[string]bool{}
	}
	if opts.Filename != "" {
		p.state.ancestors = withAncestor(p.state.ancestors, opts.Filename)
	}
	program, err := p.run(src)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			if pe.Filename == "" {
				pe.Filename = opts.Filename
			}
			return "", pe
		}
		return "", &ParseError{Filename: opts.Filename, Line: p.line, Err: err}
	}
	return program, nil
}

func withAncestor(ancestors map[string]bool, name string) map[string]bool {
	next := make(map[string]bool, len(ancestors)+1)
	for k := range ancestors {
		next[k] = true
	}
	next[filepath.Clean(name)] = true
	return next
}

func (p *parser) run(src string) (string, error) {
	segs, err := scan(src, p.opts.Open, p.opts.Close)
	if err != nil {
		return "", err
	}

	scope := p.stack.push(&frame{typ: frameMain, out: &p.main})
	scope.out.push("var buf = [];")
	if p.state.blocks {
		scope.out.push("\nvar blocks = {};")
	}
	if p.state.binding {
		scope.out.push("\n(function(){")
	}
	scope.out.push("\n buf.push('")

	for _, seg := range segs {
		p.line = seg.line
		if seg.kind == segLiteral {
			p.stack.top().out.push(quoteLiteral(seg.text))
			continue
		}
		if err = p.tag(seg); err != nil {
			return "", err
		}
	}

	scope = p.stack.top()
	switch scope.typ {
	case frameBlock:
		return "", ErrUnclosedBlock
	case frameExtend:
		layout, err := p.nested(scope.path, parseState{})
		if err != nil {
			return "", err
		}
		scope = p.stack.pop()
		scope.out.push("\n buf.push('' + ", layout, " + '")
	}

	if p.state.binding {
		scope.out.push("');\n}).call(this);\nreturn buf.join('');")
	} else {
		scope.out.push("');\nreturn buf.join('');")
	}
	return scope.out.String(), nil
}

func (p *parser) tag(seg segment) error {
	c, err := classify(seg.text)
	if err != nil {
		return err
	}
	debug := !p.opts.NoCompileDebug
	scope := p.stack.top()

	switch c.kind {
	case kindEscaped:
		scope.out.push(emitEscaped(c.code, seg.line, debug))
	case kindRaw:
		scope.out.push(emitRaw(c.code, seg.line, debug))
	case kindFiltered:
		if c.escape {
			scope.out.push(emitEscaped(c.code, seg.line, debug))
		} else {
			scope.out.push(emitRaw(c.code, seg.line, debug))
		}
	case kindStatement:
		if strings.TrimSpace(c.code) != "" {
			scope.out.push(emitStatement(c.code, seg.line, debug))
		}

	case kindInclude:
		path, err := p.resolve(c.payload)
		if err != nil {
			return err
		}
		code, err := p.nested(path, parseState{blocks: true})
		if err != nil {
			return err
		}
		scope.out.push("' + ", code, " + '")

	case kindExtend:
		if p.extended {
			return ErrDuplicateExtend
		}
		if p.stack.has(frameBlock) {
			return ErrExtendInBlock
		}
		path, err := p.resolve(c.payload)
		if err != nil {
			return err
		}
		p.extended = true
		scope.out.push("'); buf.length = 0;")
		p.stack.push(&frame{typ: frameExtend, out: &p.hidden, path: path})

	case kindBlock:
		if scope.typ == frameBlock {
			return fmt.Errorf("%w: %q opened inside %q", ErrNestedBlock, c.payload, scope.name)
		}
		inline := scope.typ != frameExtend
		p.stack.push(&frame{typ: frameBlock, out: &p.main, name: c.payload})
		p.main.push(emitBlockOpen(c.payload, inline))

	case kindEndblock:
		if scope.typ != frameBlock {
			return ErrUnmatchedEndblock
		}
		if c.payload != "" && c.payload != scope.name {
			return fmt.Errorf("%w: got %q, open block is %q", ErrEndblockMismatch, c.payload, scope.name)
		}
		out := scope.out
		scope = p.stack.pop()
		out.push(emitBlockClose(scope.typ != frameExtend))

	case kindSblock:
		if scope.typ == frameExtend {
			return ErrSblockInExtend
		}
		scope.out.push(emitSblock(c.payload))
	}
	return nil
}

// resolve turns a directive argument into a path relative to the template
// being compiled, rejecting paths that are already being compiled above us.
func (p *parser) resolve(name string) (string, error) {
	if p.opts.Filename == "" {
		return "", ErrFilenameRequired
	}
	path := p.engine.resolver.Resolve(p.opts.Filename, name)
	if p.state.ancestors[filepath.Clean(path)] {
		return "", fmt.Errorf("%w: %s", ErrCircularReference, path)
	}
	return path, nil
}

// nested reads and compiles an included file or a parent layout, returning it
// as an inline expression.
func (p *parser) nested(path string, state parseState) (string, error) {
	data, err := p.engine.reader.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	src := string(data)
	opts := p.opts
	opts.Filename = path
	state.ancestors = p.state.ancestors
	program, err := p.engine.parse(src, opts, state)
	if err != nil {
		return "", err
	}
	return emitInline(program, src, path, !p.opts.NoCompileDebug), nil
}
