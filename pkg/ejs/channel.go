package ejs

import "strings"

// channel buffers generated program fragments. Code emitted while a template
// extends a layout goes to a hidden channel and is dropped; only block bodies
// reach the main channel.
type channel struct {
	buf strings.Builder
}

func (c *channel) push(fragments ...string) {
	for _, f := range fragments {
		c.buf.WriteString(f)
	}
}

func (c *channel) String() string {
	return c.buf.String()
}

type frameType int

const (
	frameMain frameType = iota
	frameExtend
	frameBlock
)

// frame is one entry of the structural scope stack.
type frame struct {
	typ  frameType
	out  *channel
	path string // resolved parent layout, extend frames only
	name string // block name, block frames only
}

type scopeStack struct {
	frames []*frame
}

func (s *scopeStack) top() *frame {
	return s.frames[len(s.frames)-1]
}

func (s *scopeStack) push(f *frame) *frame {
	s.frames = append(s.frames, f)
	return f
}

func (s *scopeStack) pop() *frame {
	s.frames = s.frames[:len(s.frames)-1]
	return s.top()
}

func (s *scopeStack) has(typ frameType) bool {
	for _, f := range s.frames {
		if f.typ == typ {
			return true
		}
	}
	return false
}
