package ejs

import (
	"regexp"
	"strings"
)

// entityRef matches an already-escaped character reference such as &amp; or
// &#39; at the start of a string.
var entityRef = regexp.MustCompile(`^&#?[a-zA-Z0-9]+;`)

// EscapeHTML replaces &, <, >, ' and " with character references. Ampersands
// that already start a character reference are left alone.
func EscapeHTML(s string) string {
	if !strings.ContainsAny(s, `&<>'"`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			if entityRef.MatchString(s[i:]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '\'':
			b.WriteString("&#39;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// escapeSource is the JavaScript fallback embedded in client programs.
const escapeSource = `function(html){
  return String(html)
    .replace(/&(?!#?[a-zA-Z0-9]+;)/g, '&amp;')
    .replace(/</g, '&lt;')
    .replace(/>/g, '&gt;')
    .replace(/'/g, '&#39;')
    .replace(/"/g, '&quot;');
}`
