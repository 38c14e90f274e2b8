package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"control characters", "Hello\x00 W\x07orld\r", "Hello World"},
		{"non ascii dropped", "Café ™ brand", "Caf brand"},
		{"stray pipes", "Size | Weight || Color", "Size Weight Color"},
		{"blank line runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"inline whitespace", "  lots   of\t\tspace  ", "lots of space"},
		{"consecutive duplicates", "Made in USA\nMade in USA\nMade   in USA\nOther", "Made in USA\nOther"},
		{"whitespace only lines", "a\n \n\t\n b", "a\n\nb"},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Clean(tc.in))
		})
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	got := Merge([]string{"First image", "", "  ", "Second | image\n\n\n\nline"})
	require.Equal(t, "First image\n\nSecond image\n\nline", got)
	require.Empty(t, Merge([]string{"", " "}))
	require.Empty(t, Merge(nil))
}

func FuzzClean(f *testing.F) {
	for _, seed := range []string{"", "a|b", "x\n\n\n\ny", "dup\ndup", "\t tab \x01 ctl", "é\n\n \n|"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Clean(in)
		if twice := Clean(once); twice != once {
			t.Fatalf("Clean not idempotent: %q -> %q -> %q", in, once, twice)
		}
	})
}
