package ejs

import (
	"fmt"
	"strings"
	"unicode"
)

// tagKind is what a tag asks the compiler to do.
type tagKind int

const (
	kindEscaped tagKind = iota
	kindRaw
	kindFiltered
	kindStatement
	kindInclude
	kindExtend
	kindBlock
	kindEndblock
	kindSblock
)

var kindNames = [...]string{
	kindEscaped:   "escaped-output",
	kindRaw:       "raw-output",
	kindFiltered:  "filtered-output",
	kindStatement: "statement",
	kindInclude:   "include",
	kindExtend:    "extend",
	kindBlock:     "block",
	kindEndblock:  "endblock",
	kindSblock:    "sblock",
}

func (k tagKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Output markers recognised right after the open delimiter.
const (
	escapedMarker  = '='
	rawMarker      = '-'
	filteredMarker = ':'
)

// directives maps the leading keyword of a statement tag to its kind. The
// boolean reports whether the keyword requires an argument.
var directives = map[string]struct {
	kind     tagKind
	required bool
}{
	"extend":   {kindExtend, true},
	"block":    {kindBlock, true},
	"endblock": {kindEndblock, false},
	"sblock":   {kindSblock, true},
	"include":  {kindInclude, true},
}

// classified is the result of classify: the kind, the directive argument (a
// path or block name) and the code to splice into the program. escape is set
// for filtered output opened with the escaped marker.
type classified struct {
	kind    tagKind
	payload string
	code    string
	escape  bool
}

// classify inspects the raw text of a tag. Embedded code is never parsed; only
// the marker character and a leading directive keyword are looked at.
func classify(text string) (classified, error) {
	if text == "" {
		return classified{kind: kindStatement}, nil
	}
	switch text[0] {
	case escapedMarker, rawMarker:
		kind := kindEscaped
		if text[0] == rawMarker {
			kind = kindRaw
		}
		code := text[1:]
		if len(code) > 0 && code[0] == filteredMarker {
			return classified{kind: kindFiltered, code: translateFilters(code[1:]), escape: kind == kindEscaped}, nil
		}
		return classified{kind: kind, code: code}, nil
	}

	command := strings.TrimSpace(text)
	keyword, rest := command, ""
	if i := strings.IndexFunc(command, unicode.IsSpace); i >= 0 {
		keyword, rest = command[:i], strings.TrimSpace(command[i:])
	}
	d, ok := directives[keyword]
	if !ok {
		return classified{kind: kindStatement, code: text}, nil
	}
	if d.required && rest == "" {
		return classified{}, fmt.Errorf("%s: %w", keyword, ErrMissingPayload)
	}
	return classified{kind: d.kind, payload: rest}, nil
}
