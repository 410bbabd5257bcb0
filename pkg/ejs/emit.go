package ejs

import (
	"encoding/json"
	"strconv"
	"strings"
)

// literalReplacer quotes template text for a single-quoted string in the
// generated program.
var literalReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", "",
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

func quoteLiteral(s string) string {
	return literalReplacer.Replace(s)
}

// jsString returns s as a double-quoted string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return string(b)
}

// lineMarker is the expression recording the current source line.
func lineMarker(line int, debug bool) string {
	if debug {
		return "__stack.lineno=" + strconv.Itoa(line)
	}
	return strconv.Itoa(line)
}

// terminateComment makes sure a trailing line comment in spliced code cannot
// swallow the fragment emitted after it.
func terminateComment(code string) string {
	if strings.LastIndex(code, "//") > strings.LastIndex(code, "\n") {
		return code + "\n"
	}
	return code
}

func emitEscaped(code string, line int, debug bool) string {
	return "', escape((" + lineMarker(line, debug) + ", " + terminateComment(code) + ")), '"
}

func emitRaw(code string, line int, debug bool) string {
	return "', (" + lineMarker(line, debug) + ", " + terminateComment(code) + "), '"
}

func emitStatement(code string, line int, debug bool) string {
	return "');" + lineMarker(line, debug) + ";" + terminateComment(code) + "; buf.push('"
}

// emitBlockOpen starts a block body. Inline blocks are expressions inside the
// current buf.push call; captured blocks are statements that fill the block map
// unless a child template already did.
func emitBlockOpen(name string, inline bool) string {
	key := "blocks[" + jsString(name) + "]"
	var b strings.Builder
	if inline {
		b.WriteString("', " + key + " || (function() {")
	} else {
		b.WriteString("\n if (!" + key + ") " + key + " = (function() {")
	}
	b.WriteString("\n  var buf = [];\n  buf.push('")
	return b.String()
}

func emitBlockClose(inline bool) string {
	s := "');\n  return buf.join('');\n }).call(this)"
	if inline {
		return s + ", '"
	}
	return s + ";"
}

func emitSblock(name string) string {
	return "', blocks[" + jsString(name) + "] || '', '"
}

// emitInline wraps a nested program as an expression. With line tracking on,
// __stack points at the nested source while it runs so runtime errors are
// reported against the right file.
func emitInline(program, src, filename string, debug bool) string {
	if !debug {
		return "(function(){\n" + program + "\n}).call(this)"
	}
	return "(function(){\n" +
		" var __parent = __stack;\n" +
		" __stack = { lineno: 1, input: " + jsString(src) + ", filename: " + jsString(filename) + " };\n" +
		" var __out = (function(){\n" + program + "\n }).call(this);\n" +
		" __stack = __parent;\n" +
		" return __out;\n" +
		"}).call(this)"
}
