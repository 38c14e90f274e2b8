package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "sized image",
			in:   "https://m.media-amazon.com/images/I/71abc._AC_SX300_.jpg",
			want: []string{
				"https://m.media-amazon.com/images/I/71abc._AC_SX300_.jpg",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1500_.jpg",
				"https://m.media-amazon.com/images/I/71abc.jpg",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1200_.jpg",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1000_.jpg",
			},
		},
		{
			name: "bare image gains tokens",
			in:   "https://m.media-amazon.com/images/I/71abc.png",
			want: []string{
				"https://m.media-amazon.com/images/I/71abc.png",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1500_.png",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1200_.png",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1000_.png",
			},
		},
		{
			name: "already large",
			in:   "https://m.media-amazon.com/images/I/71abc._AC_SL1500_.jpg",
			want: []string{
				"https://m.media-amazon.com/images/I/71abc._AC_SL1500_.jpg",
				"https://m.media-amazon.com/images/I/71abc.jpg",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1200_.jpg",
				"https://m.media-amazon.com/images/I/71abc._AC_SL1000_.jpg",
			},
		},
		{name: "blank", in: "  ", want: nil},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, URLVariants(tc.in))
		})
	}
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"mine", "helloworld", "spare"}, Credentials(" mine ", []string{"helloworld", "mine", "", "spare"}))
	require.Equal(t, []string{"helloworld"}, Credentials("", []string{"helloworld"}))
	require.Empty(t, Credentials("", nil))
}

func TestParamsValues(t *testing.T) {
	t.Parallel()

	def := ParamVariants[0].Values()
	require.Equal(t, "eng", def.Get("language"))
	require.Equal(t, "2", def.Get("OCREngine"))
	require.Equal(t, "false", def.Get("isOverlayRequired"))
	require.Equal(t, "true", def.Get("scale"))
	require.Equal(t, "false", def.Get("isTable"))
	require.False(t, def.Has("detectOrientation"))

	names := make([]string, 0, len(ParamVariants))
	for _, p := range ParamVariants {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"default", "orientation", "engine1", "table", "auto_language"}, names)

	require.Equal(t, "true", ParamVariants[1].Values().Get("detectOrientation"))
	require.Equal(t, "1", ParamVariants[2].Values().Get("OCREngine"))
	require.Equal(t, "true", ParamVariants[3].Values().Get("isTable"))
	require.Equal(t, "auto", ParamVariants[4].Values().Get("language"))
}
