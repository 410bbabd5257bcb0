package ejs

import (
	"fmt"
	"strconv"
	"strings"
)

// contextLines is how many lines either side of the failing line are shown.
const contextLines = 3

// RenderError is a runtime failure annotated with where in the template it
// happened.
type RenderError struct {
	Filename string
	Line     int
	// Context is the numbered source window around Line, the failing line
	// marked with ">>".
	Context string
	// Message is the thrown value as the template code saw it.
	Message string
	Err     error
}

func (e *RenderError) Error() string {
	return e.Filename + ":" + strconv.Itoa(e.Line) + "\n" + e.Context + "\n\n" + e.Message
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Annotate builds a RenderError for a failure at line of src.
func Annotate(err error, src, filename string, line int) *RenderError {
	if filename == "" {
		filename = "ejs"
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &RenderError{
		Filename: filename,
		Line:     line,
		Context:  sourceWindow(src, line),
		Message:  msg,
		Err:      err,
	}
}

// sourceWindow renders the lines around line with right-aligned numbers.
func sourceWindow(src string, line int) string {
	lines := strings.Split(src, "\n")
	start := max(line-contextLines, 1)
	end := min(line+contextLines, len(lines))
	width := len(strconv.Itoa(end))

	var b strings.Builder
	for n := start; n <= end; n++ {
		if n > start {
			b.WriteByte('\n')
		}
		marker := "    "
		if n == line {
			marker = " >> "
		}
		fmt.Fprintf(&b, "%s%*d| %s", marker, width, n, strings.TrimSuffix(lines[n-1], "\r"))
	}
	return b.String()
}

// rethrowSource is the JavaScript fallback embedded in client programs.
const rethrowSource = `function(err, str, filename, lineno){
  var lines = str.split('\n'),
      start = Math.max(lineno - 3, 0),
      end = Math.min(lines.length, lineno + 3);
  var context = lines.slice(start, end).map(function(line, i){
    var curr = i + start + 1;
    return (curr == lineno ? ' >> ' : '    ') + curr + '| ' + line;
  }).join('\n');
  err.path = filename;
  err.message = (filename || 'ejs') + ':' + lineno + '\n' + context + '\n\n' + err.message;
  throw err;
}`
