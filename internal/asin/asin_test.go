package asin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{"bare code", "B0EXAMPLE1", "B0EXAMPLE1"},
		{"lowercase bare code", "b0example1", "B0EXAMPLE1"},
		{"dp url with query", "https://amazon.com/dp/B0EXAMPLE2?x=1", "B0EXAMPLE2"},
		{"gp product url", "https://www.amazon.de/gp/product/b0abcdefgh/ref=x", "B0ABCDEFGH"},
		{"query parameter", "https://example.com/item?foo=bar&asin=B012345678", "B012345678"},
		{"dp wins over earlier token", "https://www.amazon.com/Some-Long-Title/dp/B0DPDPDPDP", "B0DPDPDPDP"},
		{"padded", "   B0EXAMPLE1  ", "B0EXAMPLE1"},
		{"too short", "B0EXA", ""},
		{"empty", "", ""},
		{"punctuation only", "--- / ? &", ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Extract(tc.raw))
		})
	}
}

func TestExtractAllDropsMalformed(t *testing.T) {
	t.Parallel()

	got := ExtractAll([]string{"B0EXAMPLE1", "nope", "", "https://amazon.com/dp/B0EXAMPLE2?x=1"})
	require.Equal(t, []string{"B0EXAMPLE1", "B0EXAMPLE2"}, got)
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.True(t, Valid("B0EXAMPLE1"))
	require.False(t, Valid("b0example1"))
	require.False(t, Valid("B0EXAMPLE"))
	require.False(t, Valid("B0EXAMPLE-"))
}

func FuzzExtract(f *testing.F) {
	for _, seed := range []string{"B0EXAMPLE1", "https://amazon.com/dp/B0EXAMPLE2?x=1", "xx", "?asin=b000000000"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		got := Extract(raw)
		if got == "" {
			return
		}
		if !Valid(got) {
			t.Fatalf("Extract(%q) = %q is not canonical", raw, got)
		}
		if again := Extract(got); again != got {
			t.Fatalf("Extract not idempotent: %q -> %q", got, again)
		}
	})
}
