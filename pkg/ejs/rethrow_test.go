package ejs

import (
	"errors"
	"strings"
	"testing"
)

func TestAnnotate(t *testing.T) {
	src := strings.Join([]string{"l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8", "l9", "l10", "l11"}, "\n")

	tests := []struct {
		name string
		line int
		want string
	}{
		{
			name: "middle",
			line: 6,
			want: "    3| l3\n    4| l4\n    5| l5\n >> 6| l6\n    7| l7\n    8| l8\n    9| l9",
		},
		{
			name: "first line",
			line: 1,
			want: " >> 1| l1\n    2| l2\n    3| l3\n    4| l4",
		},
		{
			name: "numbers are right-aligned",
			line: 10,
			want: "     7| l7\n     8| l8\n     9| l9\n >> 10| l10\n    11| l11",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := errors.New("boom")
			re := Annotate(cause, src, "page.ejs", tt.line)
			if re.Context != tt.want {
				t.Errorf("Context =\n%s\nwant\n%s", re.Context, tt.want)
			}
			if !errors.Is(re, cause) {
				t.Error("expected the annotation to wrap the cause")
			}
		})
	}
}

func TestAnnotateDefaultFilename(t *testing.T) {
	re := Annotate(errors.New("boom"), "only", "", 1)
	want := "ejs:1\n >> 1| only\n\nboom"
	if re.Error() != want {
		t.Errorf("Error() = %q, want %q", re.Error(), want)
	}
}
