package ejs

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultDateLayout is used by the date filter when no layout is given.
const DefaultDateLayout = "January 2, 2006"

var (
	markdownOnce sync.Once
	markdownConv goldmark.Markdown

	sanitizeOnce   sync.Once
	sanitizePolicy *bluemonday.Policy
)

func markdownConverter() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownConv = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownConv
}

func sanitizer() *bluemonday.Policy {
	sanitizeOnce.Do(func() {
		sanitizePolicy = bluemonday.UGCPolicy()
	})
	return sanitizePolicy
}

// markdown renders GFM markdown to HTML. Use it with a raw output tag.
func markdown(in any, _ ...any) (any, error) {
	var buf bytes.Buffer
	if err := markdownConverter().Convert([]byte(toString(in)), &buf); err != nil {
		return nil, fmt.Errorf("markdown: %w", err)
	}
	return buf.String(), nil
}

// sanitize strips markup that is unsafe in user generated content.
func sanitize(in any, _ ...any) (any, error) {
	return sanitizer().Sanitize(toString(in)), nil
}

// titlecase title-cases words using the rules of an optional BCP 47 language
// tag argument.
func titlecase(in any, args ...any) (any, error) {
	tag := language.Und
	if name := toString(arg(args, 0)); name != "" {
		t, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("titlecase: %w", err)
		}
		tag = t
	}
	return cases.Title(tag).String(toString(in)), nil
}

// date parses a date in any common format and reformats it with a Go layout.
func date(in any, args ...any) (any, error) {
	var t time.Time
	switch v := in.(type) {
	case time.Time:
		t = v
	case nil:
		return "", nil
	default:
		if isNumber(v) {
			t = time.UnixMilli(int64(toNumber(v))).UTC()
			break
		}
		parsed, err := dateparse.ParseAny(strings.TrimSpace(toString(v)))
		if err != nil {
			return nil, fmt.Errorf("date: %w", err)
		}
		t = parsed
	}
	layout := toString(arg(args, 0))
	if layout == "" {
		layout = DefaultDateLayout
	}
	return t.Format(layout), nil
}
