package ejs

import "strings"

// slurpMarker placed right before the close delimiter swallows the newline
// that follows the tag.
const slurpMarker = '-'

type segmentKind int

const (
	segLiteral segmentKind = iota
	segTag
)

// segment is one run of template source: either literal text or the contents
// of a tag, without its delimiters.
type segment struct {
	kind  segmentKind
	text  string
	line  int
	slurp bool
}

// scan splits src into literal and tag segments. Carriage returns are dropped
// from literal text and a newline following a slurping tag is consumed; nothing
// else is lost. Literal text is kept raw: quoting for the generated program is
// the emitter's job.
func scan(src, open, close string) ([]segment, error) {
	if open == "" || close == "" {
		return nil, &ParseError{Line: 1, Err: ErrEmptyDelimiter}
	}

	var (
		segs    []segment
		lit     strings.Builder
		line    = 1
		litLine = 1
		consume bool
	)

	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{kind: segLiteral, text: lit.String(), line: litLine})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); {
		if strings.HasPrefix(src[i:], open) {
			flush()
			start := i + len(open)
			end := strings.Index(src[start:], close)
			if end < 0 {
				return nil, &ParseError{Line: line, Err: ErrUnterminatedTag}
			}
			code := src[start : start+end]
			seg := segment{kind: segTag, text: code, line: line}
			if n := len(code); n > 0 && code[n-1] == slurpMarker {
				seg.text = code[:n-1]
				seg.slurp = true
			}
			segs = append(segs, seg)
			line += strings.Count(code, "\n")
			consume = seg.slurp
			i = start + end + len(close)
			continue
		}

		c := src[i]
		i++
		if c == '\r' {
			continue
		}
		if c == '\n' && consume {
			consume = false
			line++
			continue
		}
		consume = false
		if lit.Len() == 0 {
			litLine = line
		}
		lit.WriteByte(c)
		if c == '\n' {
			line++
		}
	}
	flush()
	return segs, nil
}
